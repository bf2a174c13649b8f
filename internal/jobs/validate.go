package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// validateAudioFile は音声ファイルが存在し、内容が音声形式であることを確認します。
func validateAudioFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(CodeInvalidInput, fmt.Sprintf("audio file not found: %s", path), nil)
		}
		return newError(CodeInvalidInput, fmt.Sprintf("audio file is not accessible: %s", path), err)
	}
	if !info.Mode().IsRegular() {
		return newError(CodeInvalidInput, fmt.Sprintf("audio path is not a file: %s", path), nil)
	}
	if info.Size() == 0 {
		return newError(CodeInvalidInput, fmt.Sprintf("audio file is empty: %s", path), nil)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return newError(CodeInvalidInput, fmt.Sprintf("failed to inspect audio file: %s", path), err)
	}
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return nil
		}
	}
	return newError(CodeInvalidInput, fmt.Sprintf("unsupported audio format %s: %s", mtype.String(), path), nil)
}

// validateMetadataFile はセッションメタデータの参照先を確認します。中身は解釈しません。
func validateMetadataFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return newError(CodeInvalidInput, fmt.Sprintf("metadata file not found: %s", path), err)
	}
	if !info.Mode().IsRegular() {
		return newError(CodeInvalidInput, fmt.Sprintf("metadata path is not a file: %s", path), nil)
	}
	return nil
}
