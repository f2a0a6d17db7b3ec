package sync

import (
	"bufio"
	"strings"
)

// Description line prefixes. The ID line is what makes an event managed;
// the Rev line fingerprints the content the event was created with.
const (
	teacherPrefix = "Professeur : "
	idPrefix      = "ID:"
	revPrefix     = "Rev:"

	unknownTeacher = "Non défini"
)

// FormatDescription renders the description of a managed event.
func FormatDescription(teacher, id, rev string) string {
	if teacher == "" {
		teacher = unknownTeacher
	}

	var b strings.Builder

	b.WriteString(teacherPrefix)
	b.WriteString(teacher)
	b.WriteString("\n")
	b.WriteString(idPrefix + " " + id)

	if rev != "" {
		b.WriteString("\n")
		b.WriteString(revPrefix + " " + rev)
	}

	return b.String()
}

// ParseMarker returns the course id embedded in desc. The first line of
// the form "ID: <value>" wins; ok is false for unmanaged events.
func ParseMarker(desc string) (id string, ok bool) {
	id = lineValue(desc, idPrefix)
	return id, id != ""
}

// parseRev returns the content fingerprint embedded in desc, or "".
func parseRev(desc string) string {
	return lineValue(desc, revPrefix)
}

func lineValue(desc, prefix string) string {
	sc := bufio.NewScanner(strings.NewReader(desc))

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, found := strings.CutPrefix(line, prefix); found {
			if v := strings.TrimSpace(rest); v != "" {
				return v
			}
		}
	}

	return ""
}
