package index

import "fmt"

// Location packs {interesting, file id, line, column} into 64 bits:
//
//	bit 0       interesting
//	bits 1-29   file id (1-based index into the owning file table)
//	bits 30-49  line (1-based)
//	bits 50-63  column (1-based)
//
// The zero value is "no location".
type Location uint64

const (
	fileBits   = 29
	lineBits   = 20
	columnBits = 14

	fileShift   = 1
	lineShift   = fileShift + fileBits
	columnShift = lineShift + lineBits

	MaxFileID = 1<<fileBits - 1
	MaxLine   = 1<<lineBits - 1
	MaxColumn = 1<<columnBits - 1

	interestingBit Location = 1
)

// NoLocation is the zero Location.
const NoLocation Location = 0

// Encode packs a location. Out-of-range fields are clamped to their maximum.
func Encode(fileID, line, column int, interesting bool) Location {
	loc := Location(clamp(fileID, MaxFileID))<<fileShift |
		Location(clamp(line, MaxLine))<<lineShift |
		Location(clamp(column, MaxColumn))<<columnShift
	if interesting {
		loc |= interestingBit
	}
	return loc
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// FileID returns the file table index.
func (l Location) FileID() int { return int(l>>fileShift) & MaxFileID }

// Line returns the 1-based line.
func (l Location) Line() int { return int(l>>lineShift) & MaxLine }

// Column returns the 1-based column.
func (l Location) Column() int { return int(l>>columnShift) & MaxColumn }

// Interesting reports the interesting flag.
func (l Location) Interesting() bool { return l&interestingBit != 0 }

// Decode unpacks every field.
func (l Location) Decode() (fileID, line, column int, interesting bool) {
	return l.FileID(), l.Line(), l.Column(), l.Interesting()
}

// Valid reports whether the location names a file and line.
func (l Location) Valid() bool { return l.FileID() != 0 && l.Line() != 0 }

// WithInteresting returns l with the interesting flag set to v.
func (l Location) WithInteresting(v bool) Location {
	if v {
		return l | interestingBit
	}
	return l &^ interestingBit
}

// WithFile returns l moved to another file id.
func (l Location) WithFile(fileID int) Location {
	return Encode(fileID, l.Line(), l.Column(), l.Interesting())
}

// Key returns l with the interesting flag cleared; equal keys are the same
// source position.
func (l Location) Key() Location { return l &^ interestingBit }

// SameAs compares two locations ignoring the interesting flag.
func (l Location) SameAs(other Location) bool { return l.Key() == other.Key() }

func (l Location) String() string {
	prefix := ""
	if l.Interesting() {
		prefix = "*"
	}
	return fmt.Sprintf("%s%d:%d:%d", prefix, l.FileID(), l.Line(), l.Column())
}
