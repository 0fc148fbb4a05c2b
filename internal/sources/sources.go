// Package sources parses a dist-git "sources" manifest into the set of
// (filename, hash, hashtype) tuples it lists (spec.md §4.2).
package sources

import (
	"bufio"
	"log"
	"os"
	"regexp"
)

// HashType identifies the hash algorithm of a SourceEntry.
type HashType string

const (
	MD5    HashType = "md5"
	SHA512 HashType = "sha512"
)

// Entry is one parsed line of a sources manifest.
type Entry struct {
	Filename string
	Hash     string
	HashType HashType
}

// md5Line matches "<32-hex>  <filename>"; sha512Line matches
// "SHA512 (<filename>) = <128-hex>".
var (
	md5Line    = regexp.MustCompile(`^([a-f0-9]{32})  (.+)$`)
	sha512Line = regexp.MustCompile(`^SHA512 \((.+)\) = ([a-f0-9]{128})$`)
)

// Parse reads the sources file at path for component ns/comp and returns the
// set of entries it lists. A missing file is not an error: it yields an
// empty set (the component has no large sources). A line matching neither
// recognized form is a hard parse error: Parse logs it against ns/comp and
// returns (nil, nil), a nil set with no error value. A non-nil error is
// returned only when the file cannot be opened or read.
func Parse(logger *log.Logger, ns, comp, path string) (map[Entry]struct{}, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if logger != nil {
			logger.Printf("no sources file found for %s/%s", ns, comp)
		}
		return map[Entry]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := map[Entry]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if m := md5Line.FindStringSubmatch(line); m != nil {
			entries[Entry{Filename: m[2], Hash: m[1], HashType: MD5}] = struct{}{}
			continue
		}
		if m := sha512Line.FindStringSubmatch(line); m != nil {
			entries[Entry{Filename: m[1], Hash: m[2], HashType: SHA512}] = struct{}{}
			continue
		}
		if logger != nil {
			logger.Printf("cannot parse %q from sources of %s/%s", line, ns, comp)
		}
		return nil, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Printf("found %d source file(s) for %s/%s", len(entries), ns, comp)
	}
	return entries, nil
}

// Diff returns the entries present in a but not in b (a - b), the set used
// by the sync pipeline to decide which entries need lookaside
// reconciliation (spec.md §4.6 step 9).
func Diff(a, b map[Entry]struct{}) map[Entry]struct{} {
	d := make(map[Entry]struct{})
	for e := range a {
		if _, ok := b[e]; !ok {
			d[e] = struct{}{}
		}
	}
	return d
}
