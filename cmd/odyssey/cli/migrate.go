package cli

import (
	"fmt"
	"io"
	"os"
)

// Migrator applies schema migrations. *db.Migrator satisfies it.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
}

// MigrateOptions defines the migrate command arguments.
type MigrateOptions struct {
	Direction string
	Stdout    io.Writer
	Stderr    io.Writer
}

// MigrateCommand runs up or down and prints the resulting version.
func MigrateCommand(m Migrator, opts MigrateOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	var err error
	switch opts.Direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
	default:
		_, _ = fmt.Fprintf(stderr, "migrate: unknown direction %q (expected up, down or version)\n", opts.Direction)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", opts.Direction, err)
		return 1
	}
	version, dirty, err := m.Version()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "schema version %d", version)
	if dirty {
		_, _ = fmt.Fprint(stdout, " (dirty)")
	}
	_, _ = fmt.Fprintln(stdout)
	if dirty {
		return 1
	}
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
