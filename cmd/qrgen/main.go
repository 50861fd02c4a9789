// Command qrgen prints a driver's parking credential as a QR code PNG.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/gosimple/slug"

	"parkpeek-guard/internal/parse"
	"parkpeek-guard/internal/qr"
)

func main() {
	student := flag.String("student", "", "student number")
	location := flag.String("location", "", "parking location the credential is issued for")
	plate := flag.String("plate", "", "vehicle plate number")
	out := flag.String("out", "", "output file (default <student>-<location>.png)")
	size := flag.Int("size", 256, "image size in pixels")
	flag.Parse()

	png, err := qr.Credential(parse.Credential{
		StudentNumber: *student,
		LocationName:  *location,
		Vehicle:       &parse.Vehicle{PlateNumber: *plate},
	}, *size)
	if err != nil {
		log.Fatalf("failed to render credential: %v", err)
	}

	if *out == "" {
		*out = slug.Make(*student+"-"+*location) + ".png"
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	log.Printf("wrote %s for %s at %s", *out, *student, *location)
}
