package query

import "sync"

// idSlicePool pools the []string id batches hydrate builds per request,
// one per entry kind, to cut allocations on the pipeline's hottest path.
// Adapted from the teacher's pkg/pool (StringSlicePool): same get/reset/put
// shape, narrowed to the one slice type this package actually churns.
var idSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 16)
		return &s
	},
}

func getIDSlice() []string {
	p := idSlicePool.Get().(*[]string)
	return (*p)[:0]
}

func putIDSlice(s []string) {
	idSlicePool.Put(&s)
}
