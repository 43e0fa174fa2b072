package mcpserver

// MarkerFormatContract describes the card headers and edit block markers
// that clients should use when reading or patching workspace files.
const MarkerFormatContract = `# Carta Marker Format Contract

Carta reads metadata cards from the top of a file and lets clients rewrite
named edit blocks. Everything else in a file is read-only to clients.

## Single-file card (SFC)

The first comment in the file (after leading blank lines and an optional
BOM) carries the ` + "`@SFC`" + ` token. The card payload is YAML.

` + "```" + `ts
/* @SFC
name: user-service
description: Loads and caches users
tags: [service, api]
*/
` + "```" + `

Runs of line comments (` + "`//`, `#`" + `), block comments (` + "`/* */`" + `) and markup
comments (` + "`<!-- -->`" + `) are recognised. A marker line holding only the token
is not part of the payload.

## Directory card (DFC)

A YAML front-matter block opening the file, containing ` + "`@DFC`" + `:

` + "```" + `markdown
---
@DFC: services
purpose: Business logic shared by the API handlers
---
` + "```" + `

## Edit blocks

` + "```" + `ts
/* LLM-EDIT:BEGIN load-user */
return cache.get(id) ?? db.find(id);
/* LLM-EDIT:END load-user */
` + "```" + `

Rules:

1. The block id is the first run of non-space characters after the keyword.
2. Only the lines strictly between BEGIN and END are replaced by ` + "`edits.apply`" + `.
3. ` + "`oldHash`" + ` is the SHA-256 of the block content with CRLF folded to LF and
   trailing blank lines dropped. Take it from ` + "`cards.scan`" + `.
4. A stale hash fails with ` + "`STALE_BLOCK`" + `; re-scan and retry with the new hash.
5. ` + "`newContent`" + ` must not contain ` + "`LLM-EDIT:`" + ` markers (` + "`OUT_OF_BOUND_WRITE`" + `).
6. All paths are relative to the workspace root; escapes fail with ` + "`PATH_ESCAPE`" + `.
7. The file keeps its line endings: CRLF files stay CRLF.

## Audit

After reading a file, record the digest you saw with ` + "`io.readlog.append`" + `
(` + "`runId`, `path`, `sha256`" + `).
`
