// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/canonical/reldb"
	_ "github.com/canonical/reldb/driver/sqlite"
)

func example() error {
	ctx := context.Background()
	db, err := reldb.Open("sqlite", ":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	places, err := db.DefineTable(ctx, "location",
		reldb.Text("town_name").PrimaryKey(),
		reldb.Int("population"),
	)
	if err != nil {
		return err
	}
	people, err := db.DefineTable(ctx, "people",
		reldb.Text("name").NotNull(),
		reldb.Int("height_cm"),
		reldb.Ref("home_town", places),
	)
	if err != nil {
		return err
	}

	for _, p := range []reldb.Values{
		{"town_name": "Kabul", "population": 13000000},
		{"town_name": "Berlin", "population": 3677472},
		{"town_name": "Brasília", "population": 3039444},
		{"town_name": "Cape Town", "population": 4710000},
	} {
		if _, err := places.Insert(ctx, p); err != nil {
			return err
		}
	}
	err = people.InsertMany(ctx, []reldb.Values{
		{"name": "Jim", "height_cm": 150, "home_town": "Kabul"},
		{"name": "Saba", "height_cm": 162, "home_town": "Berlin"},
		{"name": "Dave", "height_cm": 169, "home_town": "Brasília"},
		{"name": "Sophie", "height_cm": 174, "home_town": "Berlin"},
		{"name": "Kiri", "height_cm": 168, "home_town": "Cape Town"},
	})
	if err != nil {
		return err
	}

	// People taller than Jim, tallest first.
	jim, err := people.C("name").Eq("Jim").Select(ctx)
	if err != nil {
		return err
	}
	jimRow, err := jim.One()
	if err != nil {
		return err
	}
	jimHeight, err := jimRow.Value("height_cm")
	if err != nil {
		return err
	}
	taller, err := people.C("height_cm").Gt(jimHeight).Select(ctx,
		reldb.OrderBy(people.C("height_cm").Desc()))
	if err != nil {
		return err
	}
	for taller.Next() {
		name, _ := taller.Row().Value("name")
		fmt.Printf("%s is taller than Jim.\n", name)
	}
	if err := taller.Err(); err != nil {
		return err
	}

	// Reverse lookup: everyone living in Berlin.
	berlin, err := places.Get(ctx, "Berlin")
	if err != nil {
		return err
	}
	locals, err := berlin.RefBy(ctx, "people")
	if err != nil {
		return err
	}
	for locals.Next() {
		name, _ := locals.Row().Value("name")
		fmt.Printf("%s lives in Berlin.\n", name)
	}
	return locals.Err()
}

func main() {
	if err := example(); err != nil {
		panic(err)
	}
}
