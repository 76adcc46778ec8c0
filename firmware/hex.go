package firmware

import (
	"sort"

	"github.com/pkg/errors"
)

// MaxExtents is the capacity of the extent table.
const MaxExtents = 16

// Intel HEX record types.
const (
	recordData        = 0x00
	recordEOF         = 0x01
	recordExtLinear   = 0x04
	minRecordBytes    = 5 // count, address (2), type, checksum
	maxRecordDataSize = 0xFF
)

// Extent is a half-open range of flash words [Start, End).
type Extent struct {
	Start int
	End   int
}

// Image is a parsed firmware upload: a word-addressed flash image and
// the ranges of it that carry data.
type Image struct {
	Words   []uint16
	Extents []Extent
	Dropped int // data records lost to a full extent table
}

// ParseHex decodes Intel HEX text into a flash image of words words,
// pre-filled with erased. Addresses in the records are byte addresses.
// Only data records in the first 64 KiB segment are kept. On the EOF
// record the extents are widened to whole rows of rowWords and merged.
func ParseHex(text []byte, words int, erased uint16, rowWords int) (*Image, error) {
	img := &Image{Words: make([]uint16, words)}
	for i := range img.Words {
		img.Words[i] = erased
	}

	var ext uint16
	rec := make([]byte, 0, minRecordBytes+maxRecordDataSize)
	for i := 0; i < len(text); i++ {
		if text[i] != ':' {
			continue
		}
		var err error
		rec, i, err = readRecord(text, i+1, rec[:0])
		if err != nil {
			return nil, err
		}

		count := int(rec[0])
		addr := int(rec[1])<<8 | int(rec[2])
		data := rec[4 : 4+count]
		switch rec[3] {
		case recordData:
			if ext != 0 {
				continue
			}
			start := addr >> 1
			n := count / 2
			if start+n > words {
				return nil, errors.Wrapf(ErrMalformedHex, "data at word 0x%04X beyond flash size 0x%04X", start, words)
			}
			for w := 0; w < n; w++ {
				img.Words[start+w] = uint16(data[2*w]) | uint16(data[2*w+1])<<8
			}
			if n > 0 {
				img.addExtent(Extent{Start: start, End: start + n})
			}
		case recordEOF:
			img.collapse(rowWords, words)
			return img, nil
		case recordExtLinear:
			if count != 2 {
				return nil, errors.Wrapf(ErrMalformedHex, "extended address record with %d bytes", count)
			}
			ext = uint16(data[0])<<8 | uint16(data[1])
		default:
			return nil, errors.Wrapf(ErrUnsupportedRecord, "type 0x%02X", rec[3])
		}
	}
	return nil, ErrMissingEOF
}

// readRecord decodes the hex digits of one record starting at text[i],
// verifies its length and checksum and returns the record bytes and the
// index of the last digit consumed.
func readRecord(text []byte, i int, rec []byte) ([]byte, int, error) {
	for {
		if i+1 >= len(text) {
			break
		}
		hi, ok1 := hexDigit(text[i])
		lo, ok2 := hexDigit(text[i+1])
		if !ok1 || !ok2 {
			break
		}
		rec = append(rec, hi<<4|lo)
		i += 2
		if len(rec) >= minRecordBytes && len(rec) == int(rec[0])+minRecordBytes {
			break
		}
	}
	if len(rec) < minRecordBytes || len(rec) != int(rec[0])+minRecordBytes {
		return nil, i, errors.Wrapf(ErrMalformedHex, "truncated record near offset %d", i)
	}
	var sum byte
	for _, b := range rec {
		sum += b
	}
	if sum != 0 {
		return nil, i, errors.Wrapf(ErrChecksum, "record near offset %d", i)
	}
	return rec, i - 1, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// addExtent merges e into the first extent it touches or appends it.
func (img *Image) addExtent(e Extent) {
	for i := range img.Extents {
		x := &img.Extents[i]
		if e.Start <= x.End && e.End >= x.Start {
			x.Start = min(x.Start, e.Start)
			x.End = max(x.End, e.End)
			return
		}
	}
	if len(img.Extents) == MaxExtents {
		img.Dropped++
		return
	}
	img.Extents = append(img.Extents, e)
}

// collapse aligns extents to rows, sorts them and merges any that
// overlap or touch.
func (img *Image) collapse(rowWords, words int) {
	if len(img.Extents) == 0 {
		return
	}
	for i := range img.Extents {
		x := &img.Extents[i]
		x.Start -= x.Start % rowWords
		if r := x.End % rowWords; r != 0 {
			x.End += rowWords - r
		}
		x.End = min(x.End, words)
	}
	sort.Slice(img.Extents, func(i, j int) bool {
		return img.Extents[i].Start < img.Extents[j].Start
	})
	out := img.Extents[:1]
	for _, e := range img.Extents[1:] {
		last := &out[len(out)-1]
		if e.Start <= last.End {
			last.End = max(last.End, e.End)
			continue
		}
		out = append(out, e)
	}
	img.Extents = out
}
