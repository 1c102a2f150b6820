package kbase

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/stretchr/testify/require"
)

func TestBuildStatsString(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{Flags: CreateVerbose})
	_, cs := bindStream(t, d, 4096)

	o := d.SyncobjCreate()
	defer d.SyncobjDestroy(o)
	require.True(t, d.CSSubmit(cs, 64, o, 3))

	r := jreader.NewReader([]byte(d.BuildStatsString()))

	var api, flags string
	var pageSize int
	var slots []float64
	var fences []float64

	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "API":
			api = r.String()
		case "Flags":
			flags = r.String()
		case "PageSize":
			pageSize = r.Int()
		case "EventSlots":
			for arr := r.Array(); arr.Next(); {
				for slot := r.Object(); slot.Next(); {
					if string(slot.Name()) == "LastSubmit" {
						slots = append(slots, r.Float64())
					} else {
						r.SkipValue()
					}
				}
			}
		case "Syncobjs":
			for arr := r.Array(); arr.Next(); {
				for syncobj := r.Object(); syncobj.Next(); {
					if string(syncobj.Name()) != "Fences" {
						r.SkipValue()
						continue
					}
					for fenceArr := r.Array(); fenceArr.Next(); {
						for fence := r.Object(); fence.Next(); {
							if string(fence.Name()) == "Value" {
								fences = append(fences, r.Float64())
							} else {
								r.SkipValue()
							}
						}
					}
				}
			}
		default:
			r.SkipValue()
		}
	}
	require.NoError(t, r.Error())

	require.Equal(t, "csf", api)
	require.Equal(t, "CreateVerbose", flags)
	require.Equal(t, 4096, pageSize)
	require.Equal(t, []float64{4}, slots)
	require.Equal(t, []float64{3}, fences)
}
