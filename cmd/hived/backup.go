package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	goarchive "github.com/moby/go-archive"
)

// Backup and restore operate on the whole data directory (sqlite store
// plus NATS JetStream state) as one zstd-compressed tar archive. Run them
// against a stopped daemon; the store is in WAL mode and a live copy may
// tear.

func runBackup(args []string) error {
	var outputPath string
	dataDir := "data"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		case "-data":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -data")
			}
			i++
			dataDir = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: hived backup -f <output.tar.zst> [-data <dir>]\n")
		return fmt.Errorf("missing -f flag")
	}

	if _, err := os.Stat(dataDir); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}

	tarStream, err := goarchive.TarWithOptions(dataDir, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create tar stream: %w", err)
	}
	defer tarStream.Close()

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := io.Copy(zw, tarStream); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	// Close everything explicitly to catch write errors
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %s (%s)\n", outputPath, formatSize(size))
	return nil
}

func runRestore(args []string) error {
	var inputPath string
	dataDir := "data"
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-data":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -data")
			}
			i++
			dataDir = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: hived restore -f <backup.tar.zst> [-data <dir>] [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	if entries, err := os.ReadDir(dataDir); err == nil && len(entries) > 0 && !overwrite {
		return fmt.Errorf("data dir %s is not empty, add -overwrite to replace files", dataDir)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if err := goarchive.Untar(zr, dataDir, &goarchive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	fmt.Printf("Restore complete: %s\n", dataDir)
	return nil
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
