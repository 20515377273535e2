// Package fsutil provides the filesystem primitives shared by the
// tarball cache, the CAS store, and the linker: rename-with-copy
// fallback for cross-device renames, recursive copy, a single-file
// hard-link-or-copy helper, and the canonical content hash required by
// the CAS store.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// RenameWithFallback attempts to rename src to dst, falling back to a
// recursive copy (then removing src) when the rename fails because src
// and dst live on different devices.
func RenameWithFallback(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}

	if runtime.GOOS == "windows" && fi.IsDir() {
		if err := CopyDir(src, dst); err != nil {
			return err
		}
		return os.RemoveAll(src)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return errors.Wrapf(err, "rename %s to %s", src, dst)
	}

	if fi.IsDir() {
		if err := CopyDir(src, dst); err != nil {
			return err
		}
	} else if err := CopyFile(src, dst); err != nil {
		return err
	}
	return errors.Wrapf(os.RemoveAll(src), "cleaning up %s after copy-fallback rename", src)
}

func isCrossDevice(err error) bool {
	lerr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	errno, ok := lerr.Err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.EXDEV
}

// CopyDir recursively copies a directory tree, preserving file modes.
// The destination must not already exist.
func CopyDir(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	if !fi.IsDir() {
		return errors.Errorf("%s is not a directory", src)
	}

	if err := os.MkdirAll(dst, fi.Mode()); err != nil {
		return errors.Wrapf(err, "mkdir %s", dst)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "read dir %s", src)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.Type()&os.ModeSymlink != 0 {
			target, err := os.Readlink(srcPath)
			if err != nil {
				return errors.Wrapf(err, "readlink %s", srcPath)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return errors.Wrapf(err, "symlink %s", dstPath)
			}
			continue
		}

		if entry.IsDir() {
			if err := CopyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := CopyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

// CopyFile copies a single file, preserving its permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}

	fi, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	return errors.Wrapf(os.Chmod(dst, fi.Mode()), "chmod %s", dst)
}

// HardLinkOrCopy attempts a hard link from src to dst, falling back to
// a plain file copy when linking isn't possible (cross-device,
// permission, filesystem doesn't support it, ...). It reports whether
// the link succeeded, distinguishing the materializer's Link vs Copy
// outcome.
func HardLinkOrCopy(src, dst string) (linked bool, err error) {
	if err := os.Link(src, dst); err == nil {
		return true, nil
	}
	return false, CopyFile(src, dst)
}

type walkEntry struct {
	relPath  string
	isDir    bool
	size     int64
	readonly bool
}

// ContentHash computes the canonical-walk digest required by the CAS
// store: the tree is walked, sorted by relative path, and each entry
// contributes its path, kind, size, and a reduced readonly permission
// bit to the running hash; files additionally contribute a digest of
// their bytes. Permissions are reduced to a single bit to keep the
// hash portable across platforms.
func ContentHash(root string) (string, error) {
	var entries []walkEntry

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}

			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				return err
			}

			var size int64
			var readonly bool
			if !isDir {
				fi, err := os.Lstat(osPathname)
				if err != nil {
					return err
				}
				size = fi.Size()
				readonly = fi.Mode().Perm()&0200 == 0
			}

			entries = append(entries, walkEntry{relPath: filepath.ToSlash(rel), isDir: isDir, size: size, readonly: readonly})
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking %s", root)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	h := sha256.New()
	for _, e := range entries {
		kind := "file"
		if e.isDir {
			kind = "dir"
		}
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%t\x00", e.relPath, kind, e.size, e.readonly)

		if e.isDir {
			continue
		}
		f, err := os.Open(filepath.Join(root, e.relPath))
		if err != nil {
			return "", errors.Wrapf(err, "open %s", e.relPath)
		}
		fh := sha256.New()
		_, err = io.Copy(fh, f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "hash %s", e.relPath)
		}
		h.Write(fh.Sum(nil))
	}

	return "sha256-" + hex.EncodeToString(h.Sum(nil)), nil
}
