package actions

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dkoosis/stepci/internal/runner"
)

// Checkout places the source tree in the job workspace.
//
// Inputs: repository (default: the run's source), ref, path.
type Checkout struct{}

func (c *Checkout) Run(ctx context.Context, sc *runner.StepContext) error {
	src := sc.Input("repository", sc.Source)
	dest := sc.Workspace
	if p := sc.Input("path", ""); p != "" {
		dest = filepath.Join(sc.Workspace, p)
	}
	ref := sc.Input("ref", sc.Event.SHA)

	if isRemote(src) || isGitDir(src) {
		if err := c.clone(ctx, sc, src, dest, ref); err != nil {
			return err
		}
	} else {
		n, err := copyTree(src, dest)
		if err != nil {
			return err
		}
		sc.Printf("Copied %d file(s) from %s", n, src)
	}
	sc.SetOutput("path", dest)
	return nil
}

func (c *Checkout) clone(ctx context.Context, sc *runner.StepContext, src, dest, ref string) error {
	if code, err := sc.Exec(ctx, sc.Workspace, []string{"git", "clone", "--quiet", "--no-hardlinks", src, dest}, nil); err != nil {
		return runner.Exit(code, goerr.Wrap(err, "git clone", goerr.V("repository", src)))
	}
	if ref == "" {
		return nil
	}
	if code, err := sc.Exec(ctx, dest, []string{"git", "-c", "advice.detachedHead=false", "checkout", "--quiet", ref}, nil); err != nil {
		return runner.Exit(code, goerr.Wrap(err, "git checkout", goerr.V("ref", ref)))
	}
	sc.Printf("Checked out %s at %s", src, ref)
	return nil
}

func isRemote(src string) bool {
	return strings.Contains(src, "://") || strings.HasPrefix(src, "git@")
}

func isGitDir(src string) bool {
	_, err := os.Stat(filepath.Join(src, ".git"))
	return err == nil
}

// copyTree copies regular files, directories and symlinks from src into dest,
// skipping VCS metadata and dest itself when it lies inside src.
func copyTree(src, dest string) (int, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return 0, goerr.Wrap(err, "resolve source", goerr.V("source", src))
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return 0, goerr.Wrap(err, "resolve destination", goerr.V("path", dest))
	}
	info, err := os.Stat(absSrc)
	if err != nil {
		return 0, goerr.Wrap(err, "stat source", goerr.V("source", src))
	}
	if !info.IsDir() {
		return 0, goerr.New("source is not a directory", goerr.V("source", src))
	}

	count := 0
	err = filepath.WalkDir(absSrc, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absDest {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(absSrc, p)
		if err != nil {
			return err
		}
		target := filepath.Join(absDest, rel)

		switch {
		case d.IsDir():
			if d.Name() == ".git" && rel != "." {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			count++
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			count++
			return copyFile(p, target)
		}
		return nil
	})
	if err != nil {
		return count, goerr.Wrap(err, "copy source tree", goerr.V("source", src), goerr.V("path", dest))
	}
	return count, nil
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
