package watermark

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// EscapeFFmpegText escapes characters that are special inside a drawtext
// filter argument.
func EscapeFFmpegText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `'\\''`,
		`:`, `\:`,
		`[`, `\[`,
		`]`, `\]`,
		`;`, `\;`,
		`%`, `%%`,
	)
	return r.Replace(s)
}

func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
