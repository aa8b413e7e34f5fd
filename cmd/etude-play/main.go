// Command etude-play runs one practice attempt from the command line: it
// loads an exercise file (YAML or JSON), takes note input from a MIDI
// controller, plays it through the synthesis engine and prints the final
// attempt score as YAML.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"gopkg.in/yaml.v3"

	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/engine"
	"github.com/quaverlab/etude/gomidi"
	"github.com/quaverlab/etude/oto"
	"github.com/quaverlab/etude/session"
	"github.com/quaverlab/etude/version"
)

func main() {
	list := flag.Bool("list", false, "List available MIDI input devices and exit.")
	midiPrefix := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix.")
	firstMidi := flag.Bool("first-midi", false, "Open the first available MIDI input.")
	free := flag.Bool("free", false, "Free play: route input straight to the engine, without scoring.")
	silent := flag.Bool("silent", false, "Run without audio output; the attempt is still scored.")
	best := flag.Float64("best", 0, "Previous best score for this exercise, for high-score detection.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}

	broker := session.NewBroker()
	midiContext := gomidi.NewContext(broker)
	defer midiContext.Close()
	if *list {
		midiContext.InputDevices(func(device gomidi.RTMIDIDevice) bool {
			fmt.Println(device.String())
			return true
		})
		os.Exit(0)
	}

	exercise, err := loadExercise(flag.Arg(0), *free)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	eng := engine.New(engine.DefaultConfig)
	if err := eng.Initialize(engine.ChooseBackend(engine.DefaultConfig)); err != nil {
		// audio failure is non-fatal to scoring; the attempt runs silently
		fmt.Fprintf(os.Stderr, "engine initialization failed, running without audio: %v\n", err)
	} else if !*silent {
		audioContext, err := oto.NewContext(engine.DefaultConfig.SampleRate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not acquire audio output, running without audio: %v\n", err)
		} else {
			defer audioContext.Close()
			if err := audioContext.Start(eng); err != nil {
				fmt.Fprintf(os.Stderr, "could not start audio output: %v\n", err)
			} else {
				eng.SetOutputLatencyMs(audioContext.OutputLatencyMs())
			}
		}
	}

	if err := midiContext.TryToOpenBy(*midiPrefix, *firstMidi); err != nil {
		fmt.Fprintf(os.Stderr, "%v; continuing without controller input\n", err)
	}

	coordinator := session.NewCoordinator(broker, eng, &exercise, session.Config{PreviousBest: *best, FreePlay: *free})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	if *free {
		fmt.Println("free play; press ctrl-c to quit")
		<-interrupt
		return
	}

	session.TrySend[any](broker.ToCoordinator, session.StartMsg{})
	for {
		select {
		case <-interrupt:
			session.TrySend[any](broker.ToCoordinator, session.StopMsg{})
			return
		case msg := <-broker.ToObserver:
			if msg.Alert != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", msg.Alert.Name, msg.Alert.Message)
			}
			if msg.HasClock && msg.Transition {
				fmt.Fprintf(os.Stderr, "%s (beat %.2f)\n", msg.State, msg.Beat)
			}
			if msg.Score != nil {
				out, err := yaml.Marshal(msg.Score)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not marshal score: %v\n", err)
					os.Exit(1)
				}
				fmt.Print(string(out))
				return
			}
		}
	}
}

func loadExercise(filename string, free bool) (etude.Exercise, error) {
	if filename == "" {
		if free {
			// free play needs a tempo for the engine only; any valid
			// exercise shell will do
			return etude.Exercise{
				BPM:     120,
				Notes:   []etude.ExpectedNote{{Pitch: 60, StartBeat: 0, DurationBeats: 1}},
				Scoring: etude.DefaultScoringConfig,
			}, nil
		}
		return etude.Exercise{}, fmt.Errorf("no exercise file given")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return etude.Exercise{}, fmt.Errorf("could not read file %v: %v", filename, err)
	}
	exercise, err := etude.ParseExercise(data)
	if err != nil {
		return etude.Exercise{}, fmt.Errorf("could not parse exercise %v: %v", filename, err)
	}
	return exercise, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Etude command line utility for playing an exercise attempt.\nUsage: %s [flags] exercise.yml\n", os.Args[0])
	flag.PrintDefaults()
}
