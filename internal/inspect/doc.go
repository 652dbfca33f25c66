// Package inspect reads exported image archives and checks them against
// the recipe that produced them.
//
// Analysis is a single pass over the archive tar: the Docker-compatible
// manifest.json names the config and layer blobs, every other entry is
// sniffed for what it is, and the ordered layers are merged into one
// filesystem view with OCI whiteout handling. The resulting report
// carries the image's runtime configuration and per-file ownership
// metadata without unpacking anything to disk.
//
// Verify runs the report against a recipe:
//
//	img, err := inspect.AnalyzeFile(ctx, "out/scribe.tar")
//	if err != nil {
//		return err
//	}
//	for _, p := range inspect.Verify(img, recipe, "small") {
//		fmt.Println(p)
//	}
package inspect
