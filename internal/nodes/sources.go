package nodes

// Sourced is implemented by configs whose variable selectors are statically
// known, letting graph validation prove upstream-before-downstream ordering
// at load time.
type Sourced interface {
	// SourceRefs returns every [nodeId, variableName] selector the config
	// reads from the pool.
	SourceRefs() [][]string
}

func mappingRefs(ms []Mapping) [][]string {
	var out [][]string
	for i := range ms {
		if len(ms[i].Selector) == 2 {
			out = append(out, ms[i].Selector)
		}
	}
	return out
}

// SourceRefs implements Sourced.
func (c *EndConfig) SourceRefs() [][]string { return mappingRefs(c.Outputs) }

// SourceRefs implements Sourced.
func (c *CodeConfig) SourceRefs() [][]string { return mappingRefs(c.Inputs) }

// SourceRefs implements Sourced.
func (c *ClassifierConfig) SourceRefs() [][]string { return mappingRefs([]Mapping{c.Input}) }

// SourceRefs implements Sourced.
func (c *ExtractorConfig) SourceRefs() [][]string { return mappingRefs([]Mapping{c.Input}) }

// SourceRefs implements Sourced.
func (c *RetrievalConfig) SourceRefs() [][]string { return mappingRefs([]Mapping{c.Query}) }

// SourceRefs implements Sourced.
func (c *ToolConfig) SourceRefs() [][]string { return mappingRefs(c.Arguments) }

// SourceRefs implements Sourced.
func (c *AssignerConfig) SourceRefs() [][]string {
	ms := make([]Mapping, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		ms = append(ms, a.Source)
	}
	return mappingRefs(ms)
}

// SourceRefs implements Sourced. The output selector is deliberately
// excluded: it points inside the sub-graph, which runs after the input
// resolves.
func (c *IterationConfig) SourceRefs() [][]string { return mappingRefs([]Mapping{c.Input}) }
