// Package dockerlayer extracts container image layers to a local directory
// so their contents can be fed through the same blob-matching pipeline used
// for Git repositories. It mirrors the image-save/extract-layers flow of
// the project's Docker ingestion feature: save the image through the local
// Docker engine, then walk the resulting export for per-layer tarballs and
// the regular files each one contributes.
package dockerlayer

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/client"
)

// File is one regular file found inside an image layer, ready to be handed
// to a rule matcher the same way a Git blob is.
type File struct {
	LayerDigest string
	Path        string
	Data        []byte
}

// Extract saves imageRef through the local Docker engine and walks every
// layer.tar entry in the resulting export, returning the regular files each
// layer contributes. It requires a reachable Docker daemon; callers without
// one should surface the connection error rather than silently skipping
// image scanning.
func Extract(ctx context.Context, cli *client.Client, imageRef string) ([]File, error) {
	rc, err := cli.ImageSave(ctx, []string{imageRef})
	if err != nil {
		return nil, fmt.Errorf("dockerlayer: saving image %s: %w", imageRef, err)
	}
	defer rc.Close()

	var files []File
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dockerlayer: reading export of %s: %w", imageRef, err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, "layer.tar") {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("dockerlayer: reading %s: %w", hdr.Name, err)
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])

		layerFiles, err := extractLayer(digest, data)
		if err != nil {
			return nil, fmt.Errorf("dockerlayer: extracting layer %s: %w", digest, err)
		}
		files = append(files, layerFiles...)
	}

	return files, nil
}

// extractLayer unpacks a single layer.tar's regular file entries in memory,
// matching the original project's per-layer digest-renamed extraction step.
func extractLayer(digest string, data []byte) ([]File, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var out []File
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, File{LayerDigest: digest, Path: hdr.Name, Data: content})
	}
	return out, nil
}
