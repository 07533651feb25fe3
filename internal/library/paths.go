package library

import (
	"path/filepath"
	"strings"
)

// Save paths are stored with a well-known root tag instead of an absolute
// prefix so they survive a reinstall or a move of the install directory.
const (
	tagGameRoot = "$GAME_ROOT"
	tagAppPath  = "$APP_PATH"
	tagUserData = "$USER_DATA"
)

// RootKind selects which root an encoded path is relative to.
type RootKind int

const (
	RootAbsolute RootKind = iota
	RootGame
	RootApp
	RootUser
)

// RootResolver supplies the machine-local directories the tagged roots
// stand for. The game root is per-game and passed at resolve time.
type RootResolver interface {
	AppPath() string
	UserDataPath() string
}

// EncodedPath is a parsed save path: either absolute, or a relative path
// under one of the well-known roots.
type EncodedPath struct {
	Kind RootKind
	Rel  string // POSIX-style, empty for Kind == RootAbsolute
	Abs  string // only for Kind == RootAbsolute
}

// ParsePath decodes a stored path string into its tagged form. Untagged
// input passes through as an absolute path.
func ParsePath(encoded string) EncodedPath {
	tags := []struct {
		tag  string
		kind RootKind
	}{
		{tagGameRoot, RootGame},
		{tagAppPath, RootApp},
		{tagUserData, RootUser},
	}
	for _, t := range tags {
		if strings.HasPrefix(encoded, t.tag) {
			rel := strings.TrimPrefix(encoded, t.tag)
			rel = strings.TrimPrefix(rel, "/")
			return EncodedPath{Kind: t.kind, Rel: rel}
		}
	}
	return EncodedPath{Kind: RootAbsolute, Abs: encoded}
}

// EncodePath re-tags an absolute path against the given roots, longest
// match first. Paths under none of the roots stay absolute.
func EncodePath(abs, gameRoot string, r RootResolver) string {
	type root struct {
		tag  string
		base string
	}
	roots := []root{
		{tagGameRoot, gameRoot},
		{tagUserData, r.UserDataPath()},
		{tagAppPath, r.AppPath()},
	}
	for _, rt := range roots {
		if rt.base == "" {
			continue
		}
		if rel, err := filepath.Rel(rt.base, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return rt.tag + "/" + filepath.ToSlash(rel)
		}
	}
	return abs
}

// String returns the stored encoding.
func (p EncodedPath) String() string {
	switch p.Kind {
	case RootGame:
		return tagGameRoot + "/" + p.Rel
	case RootApp:
		return tagAppPath + "/" + p.Rel
	case RootUser:
		return tagUserData + "/" + p.Rel
	}
	return p.Abs
}

// Resolve turns the encoded path into a machine-local absolute path.
func (p EncodedPath) Resolve(gameRoot string, r RootResolver) string {
	switch p.Kind {
	case RootGame:
		return filepath.Join(gameRoot, filepath.FromSlash(p.Rel))
	case RootApp:
		return filepath.Join(r.AppPath(), filepath.FromSlash(p.Rel))
	case RootUser:
		return filepath.Join(r.UserDataPath(), filepath.FromSlash(p.Rel))
	}
	return p.Abs
}
