package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"
)

// PublicKey is a local SSH public key submitted to the session service.
type PublicKey struct {
	// Path is the filesystem path of the .pub file.
	Path string
	// Content is the single authorized_keys line, trimmed.
	Content string
	// Fingerprint is the SHA256 fingerprint for display.
	Fingerprint string
	// Comment is the key comment, when present.
	Comment string
}

// publicKeyCandidates is the fixed ordered list of conventional filenames
// tried under ~/.ssh when no explicit key path is given.
var publicKeyCandidates = []string{
	"id_ed25519.pub",
	"id_ecdsa.pub",
	"id_rsa.pub",
	"id_dsa.pub",
}

// FindPublicKey locates and parses the public key to submit. An explicit
// path wins; otherwise the conventional candidates under sshDir are tried in
// order and the first existing, parsable key is selected. sshDir defaults to
// ~/.ssh when empty. Absence of any usable key is ErrPrerequisiteMissing.
func FindPublicKey(explicitPath, sshDir string) (*PublicKey, error) {
	if strings.TrimSpace(explicitPath) != "" {
		return ReadPublicKey(explicitPath)
	}

	if sshDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		sshDir = filepath.Join(home, ".ssh")
	}

	for _, name := range publicKeyCandidates {
		p := filepath.Join(sshDir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		k, err := ReadPublicKey(p)
		if err != nil {
			continue
		}
		return k, nil
	}
	return nil, fmt.Errorf("no public key found under %s (tried %s): %w",
		sshDir, strings.Join(publicKeyCandidates, ", "), ErrPrerequisiteMissing)
}

// ReadPublicKey reads and validates a specific public key file. The first
// non-empty line must parse as an authorized_keys entry.
func ReadPublicKey(path string) (*PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}

	line := ""
	for _, ln := range strings.Split(string(data), "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			line = ln
			break
		}
	}
	if line == "" {
		return nil, fmt.Errorf("public key %s is empty: %w", path, ErrPrerequisiteMissing)
	}

	key, comment, _, _, err := cryptossh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}

	return &PublicKey{
		Path:        path,
		Content:     line,
		Fingerprint: cryptossh.FingerprintSHA256(key),
		Comment:     comment,
	}, nil
}
