package log

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Files lists the rotated log files under dir for prefix, oldest first.
func Files(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// WindowStart parses the first step out of a window file name.
func WindowStart(path, prefix string) (uint64, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix+"-"), ".jsonl.zst")
	first, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not a step window file", filepath.Base(path))
	}
	return first, nil
}

// FilesAfter lists only the window files that can hold steps after the given
// step, oldest first.
func FilesAfter(dir, prefix string, step uint64) ([]string, error) {
	paths, err := Files(dir, prefix)
	if err != nil {
		return nil, err
	}
	firsts := make([]uint64, len(paths))
	for i, p := range paths {
		if firsts[i], err = WindowStart(p, prefix); err != nil {
			return nil, err
		}
	}
	var out []string
	for i, p := range paths {
		if i+1 < len(paths) && firsts[i+1] <= step+1 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ReadJSONLZstd calls fn for every line of a compressed JSONL file.
func ReadJSONLZstd(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
	}
	return sc.Err()
}
