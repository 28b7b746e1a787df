// Package cache implements the durable tier of the asset cache: a flat
// directory holding one file per key (StoragePath/<key>) whose content is the
// raw encoded image. Writes go through a temp file + rename so readers never
// observe a torn blob, and deletes are idempotent. The asset cache depends on
// this package to persist fetched images without duplicating filesystem
// logic; it carries no metadata of its own beyond file size and modtime.
package cache
