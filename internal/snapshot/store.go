package snapshot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

// Snapshot table file names, fixed by the on-disk format.
const (
	usersFile   = "users.txt"
	domainsFile = "domains.txt"
	devicesFile = "devices.txt"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Store reads and writes registry snapshots as three flat tables under one
// directory:
//
//	users.txt    id:secret
//	domains.txt  name;owner;[dev1, dev2];[user1, user2]
//	devices.txt  composite_lastTemperatureOrNull
//
// Saves replace each table wholesale via a temp file and an atomic rename,
// so a crash mid-write never leaves a partially written table behind.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir, creating it if missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the three tables in dependency order (users, then domains, then
// devices) and returns the reconstructed state. A missing table is treated
// as empty, not an error; a malformed line is an error, since the store only
// ever writes well-formed tables atomically.
func (s *Store) Load() (registry.State, error) {
	var st registry.State

	if err := s.readLines(usersFile, func(line string) error {
		id, secret, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("missing separator")
		}
		st.Users = append(st.Users, registry.User{
			ID:     strings.TrimSpace(id),
			Secret: strings.TrimSpace(secret),
		})
		return nil
	}); err != nil {
		return registry.State{}, fmt.Errorf("loading users table: %w", err)
	}

	if err := s.readLines(domainsFile, func(line string) error {
		parts := strings.SplitN(line, ";", 4)
		if len(parts) != 4 {
			return fmt.Errorf("want 4 fields, got %d", len(parts))
		}
		st.Domains = append(st.Domains, registry.DomainState{
			Name:    strings.TrimSpace(parts[0]),
			Owner:   strings.TrimSpace(parts[1]),
			Devices: parseList(parts[2]),
			Members: parseList(parts[3]),
		})
		return nil
	}); err != nil {
		return registry.State{}, fmt.Errorf("loading domains table: %w", err)
	}

	if err := s.readLines(devicesFile, func(line string) error {
		// The composite id may itself contain underscores; the temperature
		// field never does, so split on the last one.
		sep := strings.LastIndex(line, "_")
		if sep < 0 {
			return fmt.Errorf("missing separator")
		}
		dev := registry.Device{ID: strings.TrimSpace(line[:sep])}
		if raw := strings.TrimSpace(line[sep+1:]); raw != "null" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("bad temperature %q: %w", raw, err)
			}
			dev.Temperature = &v
		}
		st.Devices = append(st.Devices, dev)
		return nil
	}); err != nil {
		return registry.State{}, fmt.Errorf("loading devices table: %w", err)
	}

	return st, nil
}

// Save serializes the full state, overwriting all three tables.
func (s *Store) Save(st registry.State) error {
	if err := s.writeAtomic(usersFile, func(w *bufio.Writer) error {
		for _, u := range st.Users {
			if _, err := fmt.Fprintf(w, "%s:%s\n", u.ID, u.Secret); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("saving users table: %w", err)
	}

	if err := s.writeAtomic(domainsFile, func(w *bufio.Writer) error {
		for _, d := range st.Domains {
			if _, err := fmt.Fprintf(w, "%s;%s;[%s];[%s]\n",
				d.Name, d.Owner,
				strings.Join(d.Devices, ", "),
				strings.Join(d.Members, ", "),
			); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("saving domains table: %w", err)
	}

	if err := s.writeAtomic(devicesFile, func(w *bufio.Writer) error {
		for _, dev := range st.Devices {
			temp := "null"
			if dev.Temperature != nil {
				temp = strconv.FormatFloat(*dev.Temperature, 'g', -1, 64)
			}
			if _, err := fmt.Fprintf(w, "%s_%s\n", dev.ID, temp); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("saving devices table: %w", err)
	}

	return nil
}

// readLines feeds every non-empty line of the named table to fn.
func (s *Store) readLines(name string, fn func(line string) error) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

// writeAtomic writes a table to a temp file in the same directory, fsyncs it
// and renames it over the target.
func (s *Store) writeAtomic(name string, fn func(w *bufio.Writer) error) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	w := bufio.NewWriter(tmp)
	if err := fn(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("setting table permissions: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replacing table: %w", err)
	}
	return nil
}

// parseList parses "[a, b, c]" into its elements. "[]" yields nil.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
