package client

import (
	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
)

// Band-math expressions per index, rendered as processing-API
// evalscripts producing one grayscale channel. Normalized-difference
// outputs are shifted from -1..1 into 0..1 for the raster; the decoder
// reverses the mapping.
var evalscripts = map[imagerydomain.IndexKind]string{
	imagerydomain.IndexNDVI: `//VERSION=3
function setup() { return { input: ["B04", "B08"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [((s.B08 - s.B04) / (s.B08 + s.B04) + 1) / 2]; }`,

	imagerydomain.IndexNDMI: `//VERSION=3
function setup() { return { input: ["B08", "B11"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [((s.B08 - s.B11) / (s.B08 + s.B11) + 1) / 2]; }`,

	imagerydomain.IndexNDRE: `//VERSION=3
function setup() { return { input: ["B05", "B08"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [((s.B08 - s.B05) / (s.B08 + s.B05) + 1) / 2]; }`,

	imagerydomain.IndexEVI: `//VERSION=3
function setup() { return { input: ["B02", "B04", "B08"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [(2.5 * (s.B08 - s.B04) / (s.B08 + 6 * s.B04 - 7.5 * s.B02 + 1) + 1) / 2]; }`,

	imagerydomain.IndexMSI: `//VERSION=3
function setup() { return { input: ["B08", "B11"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [s.B11 / s.B08 / 3]; }`,

	imagerydomain.IndexSAVI: `//VERSION=3
function setup() { return { input: ["B04", "B08"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [(1.5 * (s.B08 - s.B04) / (s.B08 + s.B04 + 0.5) + 1) / 2]; }`,

	imagerydomain.IndexGNDVI: `//VERSION=3
function setup() { return { input: ["B03", "B08"], output: { bands: 1 } }; }
function evaluatePixel(s) { return [((s.B08 - s.B03) / (s.B08 + s.B03) + 1) / 2]; }`,
}
