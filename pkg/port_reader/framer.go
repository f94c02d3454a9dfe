package port_reader

import (
	"bufio"
	"strings"
)

// readTelegram returns the next complete telegram from r, from the '/'
// line up to and including the '!' line with its checksum.
//
// When more data is already buffered after the end line, a newer telegram
// is arriving and the one just read is dropped in its favour. A read
// timeout mid-telegram discards the partial telegram.
func readTelegram(r *bufio.Reader) (string, error) {
	var buffer strings.Builder
	inTelegram := false

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}

		if !inTelegram {
			if strings.HasPrefix(line, "/") {
				buffer.WriteString(line)
				inTelegram = true
			}
			continue
		}

		buffer.WriteString(line)
		if strings.HasPrefix(line, "!") {
			if r.Buffered() > 0 {
				buffer.Reset()
				inTelegram = false
				continue
			}
			return buffer.String(), nil
		}
	}
}
