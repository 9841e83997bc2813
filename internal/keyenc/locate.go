// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package keyenc

// NoFieldDelim selects blank-separated fields: each field is a run of
// blanks followed by a run of non-blanks.
const NoFieldDelim = -1

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

// skipFields advances past n fields starting at pos.
func skipFields(line []byte, pos, n, delim int) int {
	lim := len(line)
	for ; n > 0 && pos < lim; n-- {
		if delim != NoFieldDelim {
			for pos < lim && int(line[pos]) != delim {
				pos++
			}
			if pos < lim {
				pos++
			}
			continue
		}
		for pos < lim && isBlank(line[pos]) {
			pos++
		}
		for pos < lim && !isBlank(line[pos]) {
			pos++
		}
	}
	return pos
}

func skipBlanks(line []byte, pos int) int {
	for pos < len(line) && isBlank(line[pos]) {
		pos++
	}
	return pos
}

// locate returns the [start, end) byte range selected by fs within line,
// which excludes the record delimiter. Positions past the end of the line
// clamp to it, and an end before the start yields an empty range.
func locate(line []byte, fs FieldSpec, delim int) (int, int) {
	lim := len(line)

	start := skipFields(line, 0, fs.StartCol-1, delim)
	if fs.Flags.SkipBlanksStart {
		start = skipBlanks(line, start)
	}
	if fs.StartChar > 1 {
		start = min(lim, start+fs.StartChar-1)
	}

	end := lim
	if fs.EndCol > 0 {
		if fs.EndChar == 0 {
			end = fieldEnd(line, fs.EndCol, delim)
		} else {
			end = skipFields(line, 0, fs.EndCol-1, delim)
			if fs.Flags.SkipBlanksEnd {
				end = skipBlanks(line, end)
			}
			end = min(lim, end+fs.EndChar)
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

// fieldEnd returns the position just past the last byte of field col.
func fieldEnd(line []byte, col, delim int) int {
	if delim == NoFieldDelim {
		return skipFields(line, 0, col, delim)
	}
	pos := skipFields(line, 0, col-1, delim)
	for pos < len(line) && int(line[pos]) != delim {
		pos++
	}
	return pos
}
