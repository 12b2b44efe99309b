// Package cache persists project content to per-project binary files so a
// restart can skip re-parsing unchanged sources. Assembly references are
// never persisted; they are re-resolved on every load.
package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/symbolindex/indexd/pkg/content"
)

// formatVersion is the 4-byte magic/version header. Any mismatch rejects
// the whole file.
const formatVersion uint32 = 0x49445831 // "IDX1"

// maxStringLength bounds decoded strings so a corrupt length prefix cannot
// trigger a huge allocation.
const maxStringLength = 16 * 1024 * 1024

// maxSymbolCount bounds decoded symbol lists for the same reason.
const maxSymbolCount = 1 << 22

// Codec errors. Callers treat every decode error as a cache miss.
var (
	ErrBadMagic  = errors.New("cache: version header mismatch")
	ErrCorrupt   = errors.New("cache: corrupt stream")
	ErrNoContent = errors.New("cache: nothing serializable")
)

// Encode writes pc's serializable file index to w: the fixed header
// followed by a varint-encoded object graph. References and files with a
// zero timestamp are stripped. Returns ErrNoContent when no serializable
// files remain; the store turns that into a cache-file delete.
func Encode(w io.Writer, pc *content.ProjectContent) error {
	var files []*content.UnresolvedFile
	for _, f := range pc.Files() {
		if f.Serializable() {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return ErrNoContent
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	writeString(bw, pc.AssemblyName())
	writeString(bw, pc.OutputPath())
	settings := pc.CompilerSettings()
	writeString(bw, settings.LanguageVersion)
	writeString(bw, settings.Platform)
	writeString(bw, settings.Defines)

	writeUvarint(bw, uint64(len(files)))
	for _, f := range files {
		writeString(bw, f.Path)
		writeVarint(bw, f.LastWriteTime.UnixNano())
		writeUvarint(bw, uint64(len(f.Symbols)))
		for _, s := range f.Symbols {
			writeString(bw, s.Name)
			bw.WriteByte(byte(s.Kind))
			writeUvarint(bw, uint64(s.Line))
		}
	}
	return bw.Flush()
}

// Decode reads a blob produced by Encode. Any malformed input, including a
// header mismatch or a truncated stream, returns an error; it never
// panics and never returns partial content.
func Decode(r io.Reader) (*content.ProjectContent, error) {
	br := bufio.NewReader(r)
	var magic uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if magic != formatVersion {
		return nil, ErrBadMagic
	}

	assemblyName, err := readString(br)
	if err != nil {
		return nil, err
	}
	outputPath, err := readString(br)
	if err != nil {
		return nil, err
	}
	var settings content.CompilerSettings
	if settings.LanguageVersion, err = readString(br); err != nil {
		return nil, err
	}
	if settings.Platform, err = readString(br); err != nil {
		return nil, err
	}
	if settings.Defines, err = readString(br); err != nil {
		return nil, err
	}

	fileCount, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	if fileCount > maxSymbolCount {
		return nil, ErrCorrupt
	}

	pc := content.NewProjectContent(assemblyName, outputPath, settings)
	for i := uint64(0); i < fileCount; i++ {
		f, err := readFile(br)
		if err != nil {
			return nil, err
		}
		pc = pc.WithUpdatedFile(nil, f)
	}
	return pc, nil
}

func readFile(br *bufio.Reader) (*content.UnresolvedFile, error) {
	path, err := readString(br)
	if err != nil {
		return nil, err
	}
	nanos, err := binary.ReadVarint(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	symCount, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	if symCount > maxSymbolCount {
		return nil, ErrCorrupt
	}
	symbols := make([]content.Symbol, 0, symCount)
	for i := uint64(0); i < symCount; i++ {
		name, err := readString(br)
		if err != nil {
			return nil, err
		}
		kind, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		line, err := readUvarint(br)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, content.Symbol{
			Name: name,
			Kind: content.SymbolKind(kind),
			Line: uint32(line),
		})
	}
	return &content.UnresolvedFile{
		Path:          path,
		LastWriteTime: time.Unix(0, nanos),
		Symbols:       symbols,
	}, nil
}

func writeUvarint(w *bufio.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func writeVarint(w *bufio.Writer, v int64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	w.Write(buf[:n])
}

func writeString(w *bufio.Writer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func readUvarint(br *bufio.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

func readString(br *bufio.Reader) (string, error) {
	length, err := readUvarint(br)
	if err != nil {
		return "", err
	}
	if length > maxStringLength {
		return "", ErrCorrupt
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return string(buf), nil
}
