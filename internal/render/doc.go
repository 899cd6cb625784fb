// Package render turns an owner's workout data into export files.
//
// Every format shares one Renderer: it loads a Dataset from a
// DatasetSource and hands it to a format Encoder, writing through a
// temporary file so a partially written export is never visible.
package render
