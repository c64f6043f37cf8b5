package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iabetor/chdfs-go/internal/adapter"
	"github.com/iabetor/chdfs-go/internal/filesystem"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			entries, err := a.ListStatus(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				kind := "-"
				if e.IsDirectory {
					kind = "d"
				}
				fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\n",
					kind, e.Permission, e.Length, e.ModTime.Format("2006-01-02 15:04"), e.Path)
			}
			return w.Flush()
		}),
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file or directory status",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			status, err := a.Stat(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Path:      %s\n", status.Path)
			fmt.Printf("Directory: %v\n", status.IsDirectory)
			fmt.Printf("Length:    %d\n", status.Length)
			fmt.Printf("Perm:      %s\n", status.Permission)
			fmt.Printf("Modified:  %s\n", status.ModTime)
			return nil
		}),
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			_, err := a.Mkdirs(ctx, args[0], 0o755)
			return err
		}),
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			ok, err := a.Rename(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("rename %s -> %s was not performed", args[0], args[1])
			}
			return nil
		}),
	}
}

func newRmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			ok, err := a.Delete(ctx, args[0], recursive)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s does not exist", args[0])
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete directory contents recursively")
	return cmd
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print file contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			f, err := a.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(os.Stdout, f)
			return err
		}),
	}
}

func newPutCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			local, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer local.Close()

			remote, err := a.Create(ctx, args[1], filesystem.CreateOptions{
				Permission: 0o644,
				Overwrite:  overwrite,
			})
			if err != nil {
				return err
			}
			if _, err := io.Copy(remote, local); err != nil {
				remote.Close()
				return err
			}
			return remote.Close()
		}),
	}
	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "overwrite the destination if it exists")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <path>",
		Short: "Show aggregate usage under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: withAdapter(func(ctx context.Context, a *adapter.Adapter, args []string) error {
			s, err := a.GetContentSummary(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Files:       %d\n", s.FileCount)
			fmt.Printf("Directories: %d\n", s.DirectoryCount)
			fmt.Printf("Bytes:       %d\n", s.Length)
			return nil
		}),
	}
}
