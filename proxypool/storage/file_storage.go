package storage

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"grass_farm/internal/shared/logger"
	"grass_farm/proxypool/model"
)

// FileStorage 实现了 SpareStore 接口，使用纯文本文件（每行一个代理）进行持久化。
// TakeOne 取出第一行并立即重写文件。
type FileStorage struct {
	filePath string
	mu       sync.Mutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Connect 确保文件存在。
func (fs *FileStorage) Connect(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.filePath, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (fs *FileStorage) Close() error { return nil }

// TakeOne 弹出第一个可解析的代理。无法解析的行会被丢弃并记录警告。
func (fs *FileStorage) TakeOne(_ context.Context) (*model.Proxy, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	lines, err := fs.load()
	if err != nil {
		return nil, err
	}

	for i, line := range lines {
		p, perr := model.ParseProxy(line)
		if perr != nil {
			l.Warn().Err(perr).Str("path", fs.filePath).Msg("Dropping malformed spare proxy line.")
			continue
		}
		if err := fs.save(lines[i+1:]); err != nil {
			return nil, err
		}
		return p, nil
	}

	if len(lines) > 0 {
		if err := fs.save(nil); err != nil {
			return nil, err
		}
	}
	return nil, ErrEmpty
}

// Push 追加代理，已存在的（按规范化形式）跳过。
func (fs *FileStorage) Push(_ context.Context, proxies []*model.Proxy) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	lines, err := fs.load()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if p, err := model.ParseProxy(line); err == nil {
			seen[p.String()] = struct{}{}
		}
	}

	added := 0
	for _, p := range proxies {
		key := p.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, key)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, fs.save(lines)
}

// Count returns the number of non-empty lines.
func (fs *FileStorage) Count(_ context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	lines, err := fs.load()
	return len(lines), err
}

// load 读取所有非空、非注释行。文件不存在时视为空。
func (fs *FileStorage) load() ([]string, error) {
	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// save 先写临时文件再 rename。
func (fs *FileStorage) save(lines []string) error {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.filePath)
}
