// Package tgui renders Telegram HTML messages: escaping helpers, a line
// builder that splits long output at Telegram's message size limit, and
// small paging helpers for lists.
package tgui
