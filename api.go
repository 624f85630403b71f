// Package xwalk supervises the crosswalk analysis engine and turns its hazard
// reports into stored alerts.
//
// The engine is an external, long-running program (by default
// `python ./ai_engine/yolo_service.py`) that prints newline-delimited JSON
// on stdout. xwalk keeps one instance of it running, decodes its output
// across arbitrary chunk boundaries, and persists an Alert for every
// dangerous ANALYSIS_COMPLETE report.
//
// # Basic usage
//
//	router := xwalk.NewRouter(sink, xwalk.DefaultRouterConfig(), nil, logger)
//	sup := xwalk.NewSupervisor(xwalk.ExecLauncher{}, router, xwalk.SupervisorConfig{
//	    Command: xwalk.Command{Path: "python", Args: []string{"./ai_engine/yolo_service.py"}},
//	    Logger:  logger,
//	})
//
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Wire protocol
//
// Each complete stdout line is either ignorable text or a JSON object:
//
//	{"event":"ANALYSIS_COMPLETE","file":"<name>","is_dangerous":<bool>}
//
// Unknown fields and non-JSON lines (model loading banners and the like) are
// ignored. Only is_dangerous == true produces an alert.
//
// # Restart policy
//
// Every engine exit schedules one relaunch after RestartPolicy.Delay (5s by
// default), forever. A failed spawn, typically a missing interpreter, stops
// supervision unless RestartPolicy.SpawnRetries allows more attempts.
//
// # Errors
//
// Lines that fail to decode are never errors. Alerts the sink rejects are
// reported as *PersistError through the logger, EventPersistFailed and
// SupervisorConfig.OnPersistError, so a lost hazard is never mistaken for
// log noise.
package xwalk
