package pipeline

// DefaultLabels is the disease model's class order; index i of the score
// vector belongs to DefaultLabels[i].
var DefaultLabels = []string{
	"BacterialBlight",
	"Banded Chlorosis",
	"Brownspot (Rice)",
	"Brown Spot (Sugarcane)",
	"BrownRust",
	"Dried Leaves",
	"Grassy shoot",
	"Healthy Leaves",
	"Leafsmut",
	"Tungro",
	"Yellow Leaf",
}
