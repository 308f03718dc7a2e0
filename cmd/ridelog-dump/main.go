// Package main provides a small inspection tool for serialized measurement
// payloads: it decodes a dump file (optionally deflate-compressed) and
// prints the header counts and, on request, every record.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ridelog-data/ridelog/internal/units"
	"github.com/ridelog-data/ridelog/internal/version"
	"github.com/ridelog-data/ridelog/model"
	"github.com/ridelog-data/ridelog/wire"
)

var (
	file        = flag.String("file", "", "Path to a serialized measurement payload")
	compressed  = flag.Bool("compressed", false, "Treat the file as deflate-compressed")
	records     = flag.Bool("records", false, "Print every record, not just the header")
	speedUnits  = flag.String("units", units.MetersPerSecond, "Speed units for location records: "+units.Valid())
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("ridelog-dump %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid units %q, expected one of %s", *speedUnits, units.Valid())
	}
	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}

	if *compressed {
		data, err = wire.Inflate(data)
		if err != nil {
			log.Fatalf("inflate %s: %v", *file, err)
		}
	}

	payload, err := wire.Deserialize(data)
	if err != nil {
		log.Fatalf("decode %s: %v", *file, err)
	}

	fmt.Printf("format version: %d\n", payload.Version)
	fmt.Printf("locations:      %d\n", len(payload.Locations))
	fmt.Printf("accelerations:  %d\n", len(payload.Accelerations))
	fmt.Printf("rotations:      %d\n", len(payload.Rotations))
	fmt.Printf("directions:     %d\n", len(payload.Directions))

	if !*records {
		return
	}

	for i, l := range payload.Locations {
		fmt.Printf("location[%d] ts=%d lat=%.7f lon=%.7f speed=%.2f %s accuracy=%.2f\n",
			i, l.Timestamp, l.Latitude, l.Longitude,
			units.Convert(l.Speed, *speedUnits), *speedUnits, l.Accuracy)
	}
	printSensorStream("acceleration", payload.Accelerations)
	printSensorStream("rotation", payload.Rotations)
	printSensorStream("direction", payload.Directions)
}

func printSensorStream(name string, stream []model.SensorValue) {
	for i, v := range stream {
		fmt.Printf("%s[%d] ts=%d x=%.4f y=%.4f z=%.4f\n", name, i, v.Timestamp, v.X, v.Y, v.Z)
	}
}
