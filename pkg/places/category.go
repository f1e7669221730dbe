package places

import "strings"

// Category is a filter chip grouping of upstream primary types.
type Category string

const (
	CategoryRestaurant     Category = "restaurant"
	CategoryCafe           Category = "cafe"
	CategoryGroceryStore   Category = "grocery_store"
	CategoryPublicBathroom Category = "public_bathroom"
	CategoryBar            Category = "bar"
	CategoryPitStop        Category = "pit_stop"
)

// Categories lists every filter category in display order.
var Categories = []Category{
	CategoryRestaurant,
	CategoryCafe,
	CategoryGroceryStore,
	CategoryPublicBathroom,
	CategoryBar,
	CategoryPitStop,
}

// IncludedTypes is the fixed primary type list sent with every nearby
// search. Each entry maps to one of the Categories.
var IncludedTypes = []string{
	"fast_food_restaurant",
	"restaurant",
	"cafe",
	"bar",
	"coffee_shop",
	"grocery_store",
	"supermarket",
	"public_bathroom",
	"convenience_store",
	"gas_station",
	"rest_stop",
	"market",
	"liquor_store",
}

var (
	groceryTypes = setOf("grocery_store", "supermarket", "market", "convenience_store", "liquor_store")
	cafeTypes    = setOf("cafe", "coffee_shop", "cat_cafe", "dog_cafe", "tea_house", "bagel_shop",
		"juice_shop", "candy_store", "chocolate_shop", "dessert_shop", "bakery", "ice_cream_shop")
	pitStopTypes    = setOf("gas_station", "rest_stop")
	restaurantTypes = setOf("restaurant", "bar_and_grill", "pub", "wine_bar", "food_court", "diner",
		"cafeteria", "steak_house", "pizzeria", "sandwich_shop", "dessert_cafe")
	bathroomTypes = setOf("public_bathroom", "restroom", "toilet", "washroom", "bathroom")
)

func setOf(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

func in(set map[string]struct{}, t string) bool {
	_, ok := set[t]
	return ok
}

// CategoryOf maps an upstream primary type to its filter category. Any
// "*_restaurant" or "meal*" type counts as a restaurant. The second
// result is false for unknown or missing types.
func CategoryOf(primaryType string) (Category, bool) {
	t := strings.ToLower(primaryType)
	switch {
	case t == "":
		return "", false
	case in(groceryTypes, t):
		return CategoryGroceryStore, true
	case in(cafeTypes, t):
		return CategoryCafe, true
	case in(pitStopTypes, t):
		return CategoryPitStop, true
	case t == "bar":
		return CategoryBar, true
	case in(restaurantTypes, t), strings.HasSuffix(t, "_restaurant"), strings.HasPrefix(t, "meal"):
		return CategoryRestaurant, true
	case in(bathroomTypes, t):
		return CategoryPublicBathroom, true
	}
	return "", false
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
