package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sshconfig.go
//
// Idempotent upsert engine for the OpenSSH client config (~/.ssh/config).
//
// The SSH client applies the FIRST matching directive it encounters, so more
// specific entries must precede general defaults. The engine therefore
// updates existing lines in place instead of blindly appending, and only
// appends when no match exists anywhere in the file.
//
// All writes go through a temp-file-then-rename replacement so a concurrent
// reader never observes a truncated file. No locking is provided against
// concurrent invocations editing the same file; two simultaneous runs
// targeting the same host key are a documented race.

// MatchNothing is the sentinel match key: skip scanning entirely and insert
// the replacement as the new first line of the file.
const MatchNothing = ""

// DefaultSSHConfigPath returns the canonical primary OpenSSH client config
// path used for editing: ~/.ssh/config.
func DefaultSSHConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Upsert updates or inserts a single line in the config file at path.
//
//   - Missing or empty file: replacement becomes the sole content.
//   - matchKey == MatchNothing: replacement is prepended as the first line.
//   - First line containing matchKey as a substring: replaced in place.
//   - No match anywhere: replacement is appended, preceded by a blank
//     separator line when the file does not already end blank.
//
// Applying the same call twice yields a byte-identical file.
func Upsert(path, matchKey, replacement string) error {
	lines, existed, err := readConfigLines(path)
	if err != nil {
		return err
	}
	if !existed || len(lines) == 0 {
		return writeConfigAtomic(path, []string{replacement})
	}

	if matchKey == MatchNothing {
		if lines[0] == replacement {
			return nil
		}
		return writeConfigAtomic(path, append([]string{replacement}, lines...))
	}

	// Phase one: locate the first match.
	idx := -1
	for i, ln := range lines {
		if strings.Contains(ln, matchKey) {
			idx = i
			break
		}
	}

	// Phase two: rewrite in place, or append as the explicit fallback.
	if idx >= 0 {
		if lines[idx] == replacement {
			return nil
		}
		lines[idx] = replacement
	} else {
		if strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, replacement)
	}
	return writeConfigAtomic(path, lines)
}

// UpsertHostDirective updates or inserts one directive inside the Host block
// whose header contains "Host <alias>" (case-sensitive substring match).
//
//   - Header present, directive present: only that directive line is
//     replaced; the header and unrelated directives in the block keep their
//     exact text.
//   - Header present, directive absent: the directive is inserted directly
//     after the header, using the block's existing indentation.
//   - Header absent: a new blank-line-separated block is appended.
//
// Directive keys compare case-insensitively, matching ssh_config semantics.
func UpsertHostDirective(path, alias, key, value string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return errors.New("upsert host directive: empty alias")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("upsert host directive: empty directive key")
	}

	header := "Host " + alias
	lines, existed, err := readConfigLines(path)
	if err != nil {
		return err
	}

	if !existed || len(lines) == 0 {
		return writeConfigAtomic(path, []string{header, defaultIndent + key + " " + value})
	}

	headerIdx := -1
	for i, ln := range lines {
		if strings.Contains(ln, header) && isHostLine(ln) {
			headerIdx = i
			break
		}
	}

	if headerIdx < 0 {
		if strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, header, defaultIndent+key+" "+value)
		return writeConfigAtomic(path, lines)
	}

	// The block runs from the header to the next Host line or EOF.
	blockEnd := len(lines)
	for i := headerIdx + 1; i < len(lines); i++ {
		if isHostLine(lines[i]) {
			blockEnd = i
			break
		}
	}

	for i := headerIdx + 1; i < blockEnd; i++ {
		k, _, ok := splitDirective(lines[i])
		if !ok || !strings.EqualFold(k, key) {
			continue
		}
		indent := leadingWhitespace(lines[i])
		next := indent + key + " " + value
		if lines[i] == next {
			return nil
		}
		lines[i] = next
		return writeConfigAtomic(path, lines)
	}

	// Directive absent: insert right after the header so it precedes any
	// later, more general occurrence of the same key.
	indent := detectBlockIndent(lines[headerIdx+1 : blockEnd])
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerIdx+1]...)
	inserted = append(inserted, indent+key+" "+value)
	inserted = append(inserted, lines[headerIdx+1:]...)
	return writeConfigAtomic(path, inserted)
}

const defaultIndent = "  "

// readConfigLines loads the file as a line slice, normalizing CRLF and
// dropping the final empty element when the file ends with a newline (the
// writer restores it). existed is false when the file is absent.
func readConfigLines(path string) (lines []string, existed bool, err error) {
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read ssh config %s: %w", path, rerr)
	}
	txt := strings.ReplaceAll(string(data), "\r\n", "\n")
	txt = strings.ReplaceAll(txt, "\r", "\n")
	if txt == "" {
		return nil, true, nil
	}
	parts := strings.Split(txt, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts, true, nil
}

// writeConfigAtomic replaces path with the given lines via temp-file-then-
// rename, creating the parent directory when needed and keeping a .bak copy
// of the previous content (best-effort).
func writeConfigAtomic(path string, lines []string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("write ssh config: empty path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write ssh config: create dir %s: %w", dir, err)
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", data, 0o600)
	}

	payload := strings.Join(lines, "\n")
	if payload != "" && !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(payload), 0o600); err != nil {
		return fmt.Errorf("write ssh config tmp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace ssh config %s: %w", path, err)
	}
	return nil
}

// isHostLine reports whether the line opens a Host block.
func isHostLine(line string) bool {
	k, _, ok := splitDirective(line)
	return ok && strings.EqualFold(k, "host")
}

// splitDirective splits "Key Value" / "Key=Value" ssh_config lines.
// Comment and blank lines report ok=false.
func splitDirective(line string) (key, val string, ok bool) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return "", "", false
	}
	if i := strings.IndexAny(trim, " \t="); i >= 0 {
		key = strings.TrimSpace(trim[:i])
		val = strings.TrimSpace(trim[i+1:])
		if key == "" {
			return "", "", false
		}
		return key, val, true
	}
	return "", "", false
}

func leadingWhitespace(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' {
			return line[:i]
		}
	}
	return line
}

// detectBlockIndent returns the indentation of the first directive line in
// the block body, or the default two spaces for an empty block.
func detectBlockIndent(body []string) string {
	for _, ln := range body {
		t := strings.TrimSpace(ln)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		if ws := leadingWhitespace(ln); ws != "" {
			return ws
		}
	}
	return defaultIndent
}
