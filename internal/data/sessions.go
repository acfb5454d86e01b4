package data

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"telegram-dialogs/internal/biz/model"
	"telegram-dialogs/internal/conf"

	"go.uber.org/zap"
)

const (
	sessionsDirMode  = 0o700
	sessionFileMode  = 0o600
	sessionFileExt   = ".session"
	writeProbeSuffix = ".probe"
)

var (
	// ErrSessionNotFound 会话文件不存在
	ErrSessionNotFound = errors.New("session file not found")
	// ErrSessionCorrupt 会话文件存在但为空，凭据已损坏
	ErrSessionCorrupt = errors.New("session file is empty")
)

// StableName 稳定标识对应的会话名
func StableName(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// TempName 临时标识对应的会话名
func TempName(tempID string) string {
	return "temp_user_" + tempID
}

// SessionStore 管理磁盘上的会话凭据文件。文件内容对本层完全
// 不透明，由 telegram.Client 的实现负责写入。
type SessionStore struct {
	dir string
	l   *zap.Logger
}

// NewSessionStore 创建会话存储，首次使用时建目录并做写探测
func NewSessionStore(c *conf.Bootstrap, logger *zap.Logger) (*SessionStore, error) {
	dir := c.Telegram.SessionsDir

	if err := os.MkdirAll(dir, sessionsDirMode); err != nil {
		return nil, model.NewAppError(model.KindStoreUnavailable,
			fmt.Errorf("create sessions directory %q: %w", dir, err))
	}

	s := &SessionStore{dir: dir, l: logger}
	if err := s.Probe(); err != nil {
		return nil, err
	}
	return s, nil
}

// Probe 写探测：目录存在但不可写同样是部署故障
func (s *SessionStore) Probe() error {
	probe := filepath.Join(s.dir, writeProbeSuffix)
	if err := os.WriteFile(probe, []byte("ok"), sessionFileMode); err != nil {
		return model.NewAppError(model.KindStoreUnavailable,
			fmt.Errorf("sessions directory %q is not writable: %w", s.dir, err))
	}
	if err := os.Remove(probe); err != nil {
		s.l.Warn("failed to remove write probe", zap.String("path", probe), zap.Error(err))
	}
	return nil
}

// Path 返回会话名对应的文件路径
func (s *SessionStore) Path(name string) string {
	return filepath.Join(s.dir, name+sessionFileExt)
}

// Load 读取凭据字节。零字节文件返回 ErrSessionCorrupt，
// 与不存在（ErrSessionNotFound）区分开。
func (s *SessionStore) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session %q: %w", name, err)
	}
	if len(data) == 0 {
		return nil, ErrSessionCorrupt
	}
	return data, nil
}

// Save 写入凭据字节
func (s *SessionStore) Save(name string, data []byte) error {
	if err := os.WriteFile(s.Path(name), data, sessionFileMode); err != nil {
		return model.NewAppError(model.KindStoreUnavailable,
			fmt.Errorf("write session %q: %w", name, err))
	}
	return nil
}

// Exists 判断会话文件是否存在
func (s *SessionStore) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Size 返回会话文件大小
func (s *SessionStore) Size(name string) (int64, error) {
	info, err := os.Stat(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("stat session %q: %w", name, err)
	}
	return info.Size(), nil
}

// Rename 把会话文件从 from 改名到 to。采用复制-校验-删除：
// 只有确认目标文件大小与源一致后才删除源文件，失败时两边状态不变。
func (s *SessionStore) Rename(from, to string) error {
	src := s.Path(from)
	dst := s.Path(to)

	srcInfo, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("stat session %q: %w", from, err)
	}

	if err := copyFile(src, dst); err != nil {
		// 复制失败时清掉可能的半成品，保持源文件有效
		_ = os.Remove(dst)
		return fmt.Errorf("copy session %q to %q: %w", from, to, err)
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("stat copied session %q: %w", to, err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("session copy size mismatch: %d != %d", dstInfo.Size(), srcInfo.Size())
	}

	if err := os.Remove(src); err != nil {
		s.l.Warn("failed to remove source session after rename",
			zap.String("from", from),
			zap.Error(err),
		)
	}
	return nil
}

// Delete 删除会话文件，不存在不算错误
func (s *SessionStore) Delete(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sessionFileMode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
