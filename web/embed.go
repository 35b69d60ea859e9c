package web

import "embed"

// Content embeds the public site documents served by internal/site.
//
//go:embed content/*
var Content embed.FS
