package types

import (
	"strings"

	"github.com/google/uuid"
)

// Account 是一个账号的不可变描述。ID 由 email 派生, 同一 email 永远得到同一个 ID。
type Account struct {
	ID       string
	Email    string
	Password string
	Extra    string
}

// NewAccount builds an Account and derives its stable ID.
func NewAccount(email, password, extra string) Account {
	return Account{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String(),
		Email:    email,
		Password: password,
		Extra:    extra,
	}
}
