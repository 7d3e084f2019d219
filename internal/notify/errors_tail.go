package notify

import (
	"bufio"
	"os"
)

// TailLastNLines returns up to n trailing lines of the file at path.
func TailLastNLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// errors.log is truncated at start-up, so a full scan stays cheap
	buf := make([]string, 0, n)
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}
