// Package atomicfile writes output files so that readers only ever observe a
// complete file: content goes to a temporary sibling which is renamed into
// place once fully written.
package atomicfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WritePath calls write with a temporary path in the destination directory
// and renames it to path when write succeeds. The temporary file is removed
// on failure.
func WritePath(path string, write func(tmp string) error) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "atomicfile: create temp for %s", path)
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "atomicfile: close temp")
	}
	// Writers such as sqlite expect to create the file themselves.
	if err := os.Remove(tmp); err != nil {
		return eris.Wrap(err, "atomicfile: reset temp")
	}

	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "atomicfile: rename into %s", path)
	}
	return nil
}

// WriteFile streams write's output into path atomically.
func WriteFile(path string, write func(w io.Writer) error) error {
	return WritePath(path, func(tmp string) error {
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return eris.Wrapf(err, "atomicfile: open %s", tmp)
		}
		bw := bufio.NewWriter(f)
		if err := write(bw); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "atomicfile: flush")
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "atomicfile: sync")
		}
		return eris.Wrap(f.Close(), "atomicfile: close")
	})
}
