// Command farecalc prints fare quotes between catalog locations or raw
// coordinates using the same estimator as the agent.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/example/carpool-sync/internal/fare"
	"github.com/example/carpool-sync/internal/locations"
	"github.com/example/carpool-sync/internal/models"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "farecalc:", err)
		os.Exit(2)
	}
}

type quote struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Estimate  fare.Estimate  `json:"estimate"`
	Breakdown fare.Breakdown `json:"breakdown"`
	Display   string         `json:"display"`
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("farecalc", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		from    = fs.String("from", "", "pickup location name or lat,lng")
		to      = fs.String("to", "", "drop location name or lat,lng")
		table   = fs.Bool("table", false, "print quotes between every pair of catalog locations")
		asJSON  = fs.Bool("json", false, "emit JSON")
		base    = fs.Float64("base", 50, "base fare in rupees")
		perKm   = fs.Float64("per-km", 10, "rate per km in rupees")
		fallKm  = fs.Float64("fallback-km", 5, "distance assumed when a coordinate is missing")
		listLoc = fs.Bool("locations", false, "list the location catalog")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *base < 0 || *perKm < 0 || *fallKm < 0 {
		return errors.New("fare settings must not be negative")
	}
	est := fare.NewEstimator(fare.Config{
		BaseFare:           models.Rupees(*base),
		PerKmRate:          models.Rupees(*perKm),
		FallbackDistanceKm: *fallKm,
	})

	switch {
	case *listLoc:
		return printLocations(out, *asJSON)
	case *table:
		return printTable(out, est, *asJSON)
	}
	if *from == "" || *to == "" {
		return errors.New("both -from and -to are required")
	}
	q, err := quoteFor(est, *from, *to)
	if err != nil {
		return err
	}
	if *asJSON {
		return json.NewEncoder(out).Encode(q)
	}
	fmt.Fprintf(out, "%s -> %s: %.2f km, %s (base %s + distance %s)\n",
		q.From, q.To, q.Estimate.DistanceKm, q.Display, q.Breakdown.BaseFare, q.Breakdown.DistanceFare)
	if q.Estimate.Fallback {
		fmt.Fprintln(out, "note: distance is the fallback estimate")
	}
	return nil
}

// resolve accepts a catalog name or a "lat,lng" pair.
func resolve(s string) (string, *models.Coordinate, error) {
	if loc, ok := locations.Lookup(s); ok {
		c := loc.Coordinate
		return loc.Name, &c, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("unknown location %q", s)
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", nil, fmt.Errorf("bad coordinate %q", s)
	}
	return s, &models.Coordinate{Lat: lat, Lng: lng}, nil
}

func quoteFor(est *fare.Estimator, from, to string) (quote, error) {
	fromName, a, err := resolve(from)
	if err != nil {
		return quote{}, err
	}
	toName, b, err := resolve(to)
	if err != nil {
		return quote{}, err
	}
	e := est.Estimate(a, b)
	return quote{
		From:      fromName,
		To:        toName,
		Estimate:  e,
		Breakdown: est.Breakdown(e.DistanceKm),
		Display:   e.Fare.RoundRupee().String(),
	}, nil
}

func printLocations(out io.Writer, asJSON bool) error {
	all := locations.All()
	if asJSON {
		return json.NewEncoder(out).Encode(all)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAT\tLNG")
	for _, l := range all {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\n", l.Name, l.Coordinate.Lat, l.Coordinate.Lng)
	}
	return tw.Flush()
}

func printTable(out io.Writer, est *fare.Estimator, asJSON bool) error {
	all := locations.All()
	var quotes []quote
	for _, a := range all {
		for _, b := range all {
			if a.Name == b.Name {
				continue
			}
			q, err := quoteFor(est, a.Name, b.Name)
			if err != nil {
				return err
			}
			quotes = append(quotes, q)
		}
	}
	if asJSON {
		return json.NewEncoder(out).Encode(quotes)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tKM\tFARE")
	for _, q := range quotes {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", q.From, q.To, q.Estimate.DistanceKm, q.Display)
	}
	return tw.Flush()
}
