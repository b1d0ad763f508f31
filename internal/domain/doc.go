// Package domain models the rasters, indices, and patch statistics of the
// earthquake change-detection pipeline.
//
// # Band Stacks
//
// Each Sentinel-2 granule is clipped to the area of interest and written as a
// single 6-band GeoTIFF named "<granule>_stack.tif". Band order is fixed:
//
//	1 blue   (B02, 10 m)
//	2 green  (B03, 10 m)
//	3 red    (B04, 10 m)
//	4 NIR    (B08, 10 m)
//	5 SWIR1  (B11, 20 m, resampled to 10 m)
//	6 SWIR2  (B12, 20 m, resampled to 10 m)
//
// The MGRS tile identifier ("T47QKV") is extracted from the file name with
// [ExtractTileID] and pairs a pre-event stack with its post-event stack.
//
// # Indices
//
// Every index is a normalized difference (A-B)/(A+B):
//
//	NDVI = (NIR - RED)   / (NIR + RED)
//	NDBI = (SWIR1 - NIR) / (SWIR1 + NIR)
//	NDWI = (NIR - SWIR1) / (NIR + SWIR1)   Gao, the default
//	NDWI = (GREEN - NIR) / (GREEN + NIR)   McFeeters, selectable
//
// # No-Data
//
// NaN is the single no-data sentinel across every raster the pipeline
// produces. A zero denominator or a NaN/Inf operand yields NaN, a difference
// is NaN where either input is NaN, and patch means ignore NaN pixels.
//
// # Patches
//
// Difference rasters are cut into square blocks (128 px by default) anchored
// at pixel (0,0); edge blocks may be smaller. See [AggregatePatches].
package domain
