package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const extension = "zst"

// Compress compresses a file using zstd.
func Compress(filepath string) (string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("open file: %s", err)
	}
	defer func() {
		_ = file.Close()
	}()
	pr, pw := io.Pipe()
	zW, err := zstd.NewWriter(pw)
	if err != nil {
		return "", fmt.Errorf("new writer level: %s", err)
	}

	errs := errgroup.Group{}
	errs.Go(func() error {
		if _, err := io.Copy(zW, file); err != nil {
			_ = pw.CloseWithError(err)
			return errors.Errorf("copy to writer: %s", err)
		}

		if err := zW.Close(); err != nil {
			_ = pw.CloseWithError(err)
			return errors.Errorf("closing writer: %s", err)
		}

		if err := pw.Close(); err != nil {
			return errors.Errorf("closing pipe writer: %s", err)
		}

		return nil
	})

	newFilepath := fmt.Sprintf("%s.%s", filepath, extension)
	df, err := os.OpenFile(newFilepath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		_ = pr.CloseWithError(err)
		_ = errs.Wait()
		return "", errors.Errorf("open new file: %s", err)
	}
	defer func() {
		_ = df.Close()
	}()

	rr := bufio.NewReader(pr)
	if _, err := io.Copy(df, rr); err != nil {
		return "", errors.Errorf("copy dest file: %s", err)
	}

	if err := errs.Wait(); err != nil {
		return "", errors.Errorf("errgroup wait: %s", err)
	}
	if err := df.Close(); err != nil {
		return "", errors.Errorf("closing new file: %s", err)
	}
	return newFilepath, nil
}

// Decompress decompresses a zstd file next to it, removing the extension from its name.
func Decompress(filepath string) (string, error) {
	if !strings.HasSuffix(filepath, "."+extension) {
		return "", errors.Errorf("file %s doesn't have the .%s extension", filepath, extension)
	}

	file, err := os.Open(filepath)
	if err != nil {
		return "", errors.Errorf("open file: %s", err)
	}
	defer func() {
		_ = file.Close()
	}()

	zR, err := zstd.NewReader(bufio.NewReader(file))
	if err != nil {
		return "", errors.Errorf("new reader: %s", err)
	}
	defer zR.Close()

	newFilepath := strings.TrimSuffix(filepath, "."+extension)
	df, err := os.OpenFile(newFilepath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Errorf("open new file: %s", err)
	}
	defer func() {
		_ = df.Close()
	}()

	if _, err := io.Copy(df, zR); err != nil {
		return "", errors.Errorf("copy dest file: %s", err)
	}
	if err := df.Close(); err != nil {
		return "", errors.Errorf("closing new file: %s", err)
	}

	return newFilepath, nil
}
