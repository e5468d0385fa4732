package genotype

import "allele/internal/model"

// CloneGenome returns a deep copy so callers can never alias lineage slices.
func CloneGenome(g model.Genome) model.Genome {
	out := g
	out.Lineage = append([]string(nil), g.Lineage...)
	return out
}

// ClonePopulation deep-copies every genome in p.
func ClonePopulation(p model.Population) model.Population {
	out := p
	out.Genomes = make([]model.Genome, len(p.Genomes))
	for i, g := range p.Genomes {
		out.Genomes[i] = CloneGenome(g)
	}
	return out
}
