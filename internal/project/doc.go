// Package project derives what a static-site renderer needs from a
// message: a title, a slug, front matter and a Markdown body.
//
// Projection is a pure function of the message. Re-projecting the same
// message always gives the same output, and the title is always
// re-derived from the content, never from an earlier title.
package project
