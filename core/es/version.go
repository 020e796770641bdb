package es

import (
	"log/slog"
	"strconv"
)

// Version is the playhead of an aggregate within its stream. A freshly created
// aggregate is at version 1 (its Created event); each applied event adds one.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) String() string                         { return strconv.FormatUint(uint64(v), 10) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
