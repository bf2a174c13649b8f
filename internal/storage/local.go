// Package storage は録音セッションのファイル配置を扱います。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// AudioFileName は録音側が書き出すミックス済み 16kHz 音声のファイル名です。
	AudioFileName = "session_audio_16k.wav"
	// MetadataFileName はセッションメタデータのファイル名です。
	MetadataFileName = "metadata.json"
)

var (
	// ErrInvalidGuild はディレクトリ名に使えないギルドIDを表します。
	ErrInvalidGuild = errors.New("invalid guild id")
	// ErrOutsideGuild はギルドのセッションディレクトリ外を指すパスを表します。
	ErrOutsideGuild = errors.New("path is outside the guild session directory")
)

// Local は <root>/<guildID>/ 配下にセッションを保存するローカル実装です。
type Local struct {
	root string
}

// NewLocal は Local を作成します。
func NewLocal(root string) *Local {
	if strings.TrimSpace(root) == "" {
		root = "Sessions"
	}
	return &Local{root: filepath.Clean(root)}
}

// Root はセッションのルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// GuildDir はギルドのセッションディレクトリを返します。
func (l *Local) GuildDir(guildID string) (string, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" || guildID == "." || guildID == ".." || strings.ContainsAny(guildID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidGuild, guildID)
	}
	return filepath.Join(l.root, guildID), nil
}

// AudioPath はギルドの最新録音のパスを返します。存在確認はしません。
func (l *Local) AudioPath(guildID string) (string, error) {
	dir, err := l.GuildDir(guildID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AudioFileName), nil
}

// MetadataPath はギルドのメタデータのパスを返します。ファイルがなければ空文字です。
func (l *Local) MetadataPath(guildID string) (string, error) {
	dir, err := l.GuildDir(guildID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, MetadataFileName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil
	}
	return path, nil
}

// Resolve は path を絶対パスにし、ギルドのセッションディレクトリ配下にあることを確認します。
// シンボリックリンクは辿った先で判定します。
func (l *Local) Resolve(guildID, path string) (string, error) {
	dir, err := l.GuildDir(guildID)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	absPath, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(realPath(absDir), realPath(absPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideGuild, path)
	}
	return absPath, nil
}

// realPath は存在する最も深い祖先までシンボリックリンクを解決します。
func realPath(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(realPath(parent), filepath.Base(path))
}
