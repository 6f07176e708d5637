package profile

import "strings"

// Channel is a set of evidence channels.
type Channel uint8

const (
	Title Channel = 1 << iota
	Cover
	Frames
	Comments
)

// AllChannels enables every channel.
const AllChannels = Title | Cover | Frames | Comments

// Has reports whether every channel in o is enabled in c.
func (c Channel) Has(o Channel) bool { return c&o == o }

func (c Channel) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, ch := range []struct {
		c    Channel
		name string
	}{{Title, "title"}, {Cover, "cover"}, {Frames, "frames"}, {Comments, "comments"}} {
		if c.Has(ch.c) {
			names = append(names, ch.name)
		}
	}
	return strings.Join(names, "+")
}

// Channels builds a channel set from the four include toggles.
func Channels(title, cover, frames, comments bool) Channel {
	var c Channel
	if title {
		c |= Title
	}
	if cover {
		c |= Cover
	}
	if frames {
		c |= Frames
	}
	if comments {
		c |= Comments
	}
	return c
}

// Section is the outcome of one evidence channel for one item. An absent
// section contributes nothing to the profile.
type Section struct {
	lines   []string
	present bool
}

// Present returns a section holding the given lines.
func Present(lines ...string) Section {
	return Section{lines: lines, present: true}
}

// Absent is the section of a disabled, unavailable, or failed channel.
var Absent = Section{}

// OK reports whether the section is present. A present section may hold no lines.
func (s Section) OK() bool { return s.present }

func (s Section) writeTo(sb *strings.Builder) {
	for _, l := range s.lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
}
