// Package jsp (JSON persistence) provides checksummed, crash-safe
// save/load of arbitrary JSON-encodable structures, with jsoniter as the
// JSON backend.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package jsp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

const signature = "capsule-jsp"

// Options controls how a value is encoded. Plain() disables checksumming
// for config-like files that are hand-edited (cmn.Config uses it); CCSign()
// enables the signature + sha256 frame.
type Options struct {
	Checksum bool
}

func Plain() Options      { return Options{Checksum: false} }
func CCSign() Options     { return Options{Checksum: true} }

// Opts is implemented by any type that knows its own persistence options.
type Opts interface {
	JspOpts() Options
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveMeta saves v using the options v itself reports via JspOpts().
func SaveMeta(filepath string, meta Opts) error {
	return Save(filepath, meta, meta.JspOpts())
}

// Save encodes v and atomically replaces filepath: write to a temp file in
// the same directory, flush, close, then os.Rename, so a crash mid-write
// never corrupts the previous good copy.
func Save(filepath string, v interface{}, opts Options) (err error) {
	tmp := filepath + ".tmp"
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if opts.Checksum {
		data = frame(data)
	}
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err = os.Rename(tmp, filepath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// LoadMeta loads into meta using the options meta itself reports.
func LoadMeta(filepath string, meta Opts) (checksum string, err error) {
	return Load(filepath, meta, meta.JspOpts())
}

// Load decodes filepath into v. When opts.Checksum is set, a corrupted
// (mismatching) checksum removes the file and returns an error rather than
// silently accepting bad data.
func Load(filepath string, v interface{}, opts Options) (checksum string, err error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return "", err
	}
	if opts.Checksum {
		var payload []byte
		payload, checksum, err = unframe(data)
		if err != nil {
			_ = os.Remove(filepath)
			return "", err
		}
		data = payload
	}
	if err = json.Unmarshal(data, v); err != nil {
		return "", err
	}
	return checksum, nil
}

// frame prepends a signature + hex sha256 of the payload.
func frame(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	hexsum := hex.EncodeToString(sum[:])
	header := fmt.Sprintf("%s|%s|", signature, hexsum)
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out
}

func unframe(data []byte) (payload []byte, checksum string, err error) {
	const minHeader = len(signature) + 1 + 64 + 1
	if len(data) < minHeader {
		return nil, "", fmt.Errorf("jsp: truncated file")
	}
	if string(data[:len(signature)]) != signature {
		return nil, "", fmt.Errorf("jsp: bad signature")
	}
	rest := data[len(signature)+1:]
	checksum = string(rest[:64])
	payload = rest[64+1:]
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, "", fmt.Errorf("jsp: checksum mismatch")
	}
	return payload, checksum, nil
}
