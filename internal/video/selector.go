package video

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"video-autopost/internal/model"
)

// NextPending returns the first video in dir, by ascending file name, whose
// extension is in exts. A missing directory or one without matching files
// yields (nil, nil). Subdirectories are ignored and nothing is modified.
func NextPending(dir string, exts []string) (*model.PendingVideo, error) {
	candidates, err := pendingEntries(dir, exts)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	first := candidates[0]
	abs, err := filepath.Abs(filepath.Join(dir, first.Name()))
	if err != nil {
		return nil, err
	}
	v := &model.PendingVideo{
		Name:      first.Name(),
		Path:      abs,
		Extension: strings.ToLower(filepath.Ext(first.Name())),
	}
	if info, err := first.Info(); err == nil {
		v.Size = info.Size()
	}
	return v, nil
}

// CountPending is the number of videos NextPending could still pick.
func CountPending(dir string, exts []string) (int, error) {
	candidates, err := pendingEntries(dir, exts)
	return len(candidates), err
}

func pendingEntries(dir string, exts []string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	allowed := lo.Map(exts, func(e string, _ int) string { return strings.ToLower(e) })
	candidates := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		if !e.Type().IsRegular() {
			return false
		}
		return lo.Contains(allowed, strings.ToLower(filepath.Ext(e.Name())))
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name() < candidates[j].Name() })
	return candidates, nil
}

// MoveToPosted relocates v into postedDir, creating it on demand, and
// returns the new path.
func MoveToPosted(v *model.PendingVideo, postedDir string) (string, error) {
	if err := os.MkdirAll(postedDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", postedDir, err)
	}
	dst := filepath.Join(postedDir, v.Name)

	if err := os.Rename(v.Path, dst); err == nil {
		return dst, nil
	}

	// rename fails across filesystems (e.g. a mounted volume), fall back to copy
	if err := copyFile(v.Path, dst); err != nil {
		return "", fmt.Errorf("move %s: %w", v.Name, err)
	}
	if err := os.Remove(v.Path); err != nil {
		return dst, fmt.Errorf("remove %s after copy: %w", v.Path, err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
