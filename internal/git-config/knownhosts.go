package gitconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsCallback verifies host keys against inline known_hosts content. Markers and
// hashed host names are handled by knownhosts.New, which reads the content once.
func knownHostsCallback(data []byte) (gossh.HostKeyCallback, error) {
	if err := checkKnownHosts(data); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp("", "known_hosts-")
	if err != nil {
		return nil, fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	defer func() {
		_ = os.Remove(file.Name())
	}()

	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write known_hosts file: %w", err)
	}

	callback, err := knownhosts.New(file.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to parse known_hosts: %w", err)
	}
	return callback, nil
}

// checkKnownHosts requires at least one parseable entry.
func checkKnownHosts(data []byte) error {
	entries := 0
	rest := data
	for {
		_, _, _, _, next, err := gossh.ParseKnownHosts(rest)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse known_hosts: %w", err)
		}
		entries++
		rest = next
	}
	if entries == 0 {
		return fmt.Errorf("known_hosts does not contain any entries")
	}
	return nil
}
