package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/spf13/cobra"
)

var (
	archiveOutput string
	archiveList   string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Bundle the run logs and event database into a .tar.zst",
	Long: `Writes the audit log, the failure log and the sqlite event store (with its
WAL files) named in the config to a zstd-compressed tarball. Use --list to
print the contents of an existing archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if archiveList != "" {
			names, err := listArchive(archiveList)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		out := archiveOutput
		if out == "" {
			out = fmt.Sprintf("fleetctl-%s.tar.zst", time.Now().Format("20060102-150405"))
		}
		n, size, err := writeArchive(out, archiveSources(cfg))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archive complete: %d files, %s\n", n, formatSize(size))
		return nil
	},
}

func init() {
	archiveCmd.Flags().StringVarP(&archiveOutput, "file", "f", "", "output path (default fleetctl-<timestamp>.tar.zst)")
	archiveCmd.Flags().StringVar(&archiveList, "list", "", "list the entries of an existing archive")
	rootCmd.AddCommand(archiveCmd)
}

// archiveSources lists the files a run leaves behind, keyed by their name
// inside the archive.
func archiveSources(cfg *config.Config) map[string]string {
	src := make(map[string]string)
	add := func(dir, p string) {
		if p != "" {
			src[path.Join(dir, filepath.Base(p))] = p
		}
	}
	add("logs", cfg.Log.Path)
	add("logs", cfg.Log.FailurePath)
	if cfg.Store.Path != "" {
		add("store", cfg.Store.Path)
		add("store", cfg.Store.Path+"-wal")
		add("store", cfg.Store.Path+"-shm")
	}
	return src
}

// writeArchive tars every existing source into a zstd stream at out.
// Missing sources are skipped. It returns the number of files written and
// the archive size.
func writeArchive(out string, sources map[string]string) (int, int64, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)

	count := 0
	for _, name := range names {
		ok, err := addFile(tw, name, sources[name])
		if err != nil {
			return 0, 0, fmt.Errorf("archive %s: %w", sources[name], err)
		}
		if !ok {
			slog.Debug("archive source missing, skipped", "path", sources[name])
			continue
		}
		count++
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, 0, fmt.Errorf("close file: %w", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return count, 0, nil
	}
	return count, info.Size(), nil
}

func addFile(tw *tar.Writer, name, src string) (bool, error) {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return false, err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return false, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.CopyN(tw, in, hdr.Size); err != nil {
		return false, fmt.Errorf("write tar data: %w", err)
	}
	return true, nil
}

// listArchive reads the tar headers without extracting file data.
func listArchive(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
