package lsp

import (
	"net/url"
	"path/filepath"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// documentID canonicalises a client URI into the key used by the registry.
// File URIs are decoded and re-encoded so equivalent spellings map to one
// document; other schemes are kept verbatim.
func documentID(raw protocol.DocumentURI) uri.URI {
	s := string(raw)
	u, err := url.Parse(s)
	if err != nil || u.Scheme != uri.FileScheme || u.Path == "" {
		return uri.URI(s)
	}
	return uri.File(filepath.Clean(uri.URI(s).Filename()))
}

// documentURI converts a registry key back to the wire type.
func documentURI(id uri.URI) protocol.DocumentURI {
	return protocol.DocumentURI(id)
}
