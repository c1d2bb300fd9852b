// Package factory instantiates pluggable modules from configuration. A
// module is named by a type string and configured by a map of raw settings
// that the registered factory decodes into its own struct.
//
// Metrics sinks are built this way:
//
//	sinks := factory.NewRegistry[metrics.MetricsSink]()
//	sinks.Register("usage", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newUsageSink(c.Path)
//	})
//	s, err := sinks.Create(factory.ModuleConfig{Type: "usage", Conf: map[string]any{"path": "usage.db"}})
package factory
